package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/fxacademy/internal/middleware"
	"github.com/onnwee/fxacademy/internal/payment"
)

// MaxWebhookBodyBytes bounds the raw webhook body read before signature verification.
const MaxWebhookBodyBytes = 1 << 20

// WebhookProcessor applies a verified webhook event.
type WebhookProcessor interface {
	Process(ctx context.Context, evt payment.Event) (payment.Outcome, error)
}

// WebhookResponse is the body returned to payment providers.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WebhookHandlers holds dependencies for payment webhook endpoints.
type WebhookHandlers struct {
	processor           WebhookProcessor
	paystackVerifier    *payment.SignatureVerifier
	stripeWebhookSecret string
}

// NewWebhookHandlers creates a new WebhookHandlers instance.
// stripeWebhookSecret may be empty when Stripe is not configured.
func NewWebhookHandlers(processor WebhookProcessor, paystackSecret, stripeWebhookSecret string) *WebhookHandlers {
	return &WebhookHandlers{
		processor:           processor,
		paystackVerifier:    payment.NewSignatureVerifier(paystackSecret),
		stripeWebhookSecret: stripeWebhookSecret,
	}
}

// HandlePaystackWebhook verifies and processes a Paystack event.
// POST /payments/webhook
//
// The body is read raw and authenticated before it is parsed. Once the signature
// passes, the provider is acknowledged with 200 unless the event could not be recorded.
func (h *WebhookHandlers) HandlePaystackWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}

	if err := h.paystackVerifier.Verify(body, r.Header.Get(payment.PaystackSignatureHeader)); err != nil {
		slog.WarnContext(ctx, "paystack webhook rejected", "error", err)
		writeWebhookRejection(w, ctx, err)
		return
	}

	evt, err := payment.ParsePaystackEvent(body)
	if err != nil {
		evt = unparseableEvent(ctx, payment.ProviderPaystack, body, err)
	}

	h.process(w, r, evt)
}

// HandleStripeWebhook verifies and processes a Stripe checkout event.
// POST /payments/webhook/stripe
func (h *WebhookHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, ok := readWebhookBody(w, r)
	if !ok {
		return
	}

	evt, err := payment.ParseStripeWebhook(body, r.Header.Get(payment.StripeSignatureHeader), h.stripeWebhookSecret)
	switch {
	case errors.Is(err, payment.ErrMalformedEvent):
		evt = unparseableEvent(ctx, payment.ProviderStripe, body, err)
	case err != nil:
		slog.WarnContext(ctx, "stripe webhook rejected", "error", err)
		writeWebhookRejection(w, ctx, err)
		return
	}

	h.process(w, r, evt)
}

func (h *WebhookHandlers) process(w http.ResponseWriter, r *http.Request, evt payment.Event) {
	ctx := r.Context()

	slog.InfoContext(ctx, "webhook event received",
		"provider", evt.Provider, "event_type", evt.Type, "event_key", evt.IdempotencyKey())

	outcome, err := h.processor.Process(ctx, evt)
	if err != nil {
		var rerr *payment.ReconcilableError
		if errors.As(err, &rerr) {
			// Recorded but not applied; redelivery would not change the result.
			slog.WarnContext(ctx, "webhook event needs reconciliation",
				"provider", rerr.Provider,
				"event_key", rerr.EventKey,
				"reason", rerr.Reason,
				"error", rerr.Err)
			writeJSON(w, ctx, http.StatusOK, WebhookResponse{Success: true, Message: "Received"})
			return
		}

		slog.ErrorContext(ctx, "failed to record webhook event",
			"provider", evt.Provider, "event_key", evt.IdempotencyKey(), "error", err)
		middleware.SetErrorCode(ctx, ErrCodeInternal)
		writeJSON(w, ctx, http.StatusInternalServerError, WebhookResponse{Message: "Failed to record event"})
		return
	}

	msg := "Processed"
	if outcome == payment.OutcomeDuplicate {
		msg = "Already processed"
	}
	writeJSON(w, ctx, http.StatusOK, WebhookResponse{Success: true, Message: msg})
}

// unparseableEvent records an authenticated body that could not be decoded under its digest.
func unparseableEvent(ctx context.Context, provider string, body []byte, err error) payment.Event {
	evt := payment.UnparseableEvent(provider, body)
	slog.WarnContext(ctx, "webhook body could not be parsed, recording raw payload for reconciliation",
		"provider", provider, "event_key", evt.IdempotencyKey(), "error", err)
	return evt
}

// readWebhookBody reads the untouched request body, bounded by MaxWebhookBodyBytes.
func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.SetErrorCode(ctx, ErrCodeBadRequest)
			writeJSON(w, ctx, http.StatusRequestEntityTooLarge, WebhookResponse{Message: "Body too large"})
			return nil, false
		}
		slog.WarnContext(ctx, "failed to read webhook body", "error", err)
		middleware.SetErrorCode(ctx, ErrCodeBadRequest)
		writeJSON(w, ctx, http.StatusBadRequest, WebhookResponse{Message: "Failed to read body"})
		return nil, false
	}
	return body, true
}

func writeWebhookRejection(w http.ResponseWriter, ctx context.Context, err error) {
	middleware.SetErrorCode(ctx, ErrCodeBadRequest)

	msg := "Invalid signature"
	switch {
	case errors.Is(err, payment.ErrMissingSignature):
		msg = "Missing signature"
	case errors.Is(err, payment.ErrEmptyBody):
		msg = "Empty body"
	}
	writeJSON(w, ctx, http.StatusBadRequest, WebhookResponse{Message: msg})
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/fxacademy/internal/middleware"
	"github.com/onnwee/fxacademy/internal/payment"
)

// PaymentHandlersConfig configures PaymentHandlers.
type PaymentHandlersConfig struct {
	Plans         payment.PlanStore
	Subscriptions payment.SubscriptionStore
	Providers     []payment.Provider

	// DefaultProvider is used when a checkout request names none.
	DefaultProvider string
	// Currency is used for plans without one.
	Currency string
	// CallbackURL is where the provider returns the customer after checkout.
	CallbackURL string

	Now func() time.Time
}

// PaymentHandlers serves checkout initialization and subscription lookup.
type PaymentHandlers struct {
	plans           payment.PlanStore
	subs            payment.SubscriptionStore
	providers       map[string]payment.Provider
	defaultProvider string
	currency        string
	callbackURL     string
	now             func() time.Time
}

// NewPaymentHandlers creates a new PaymentHandlers instance.
func NewPaymentHandlers(cfg PaymentHandlersConfig) *PaymentHandlers {
	providers := make(map[string]payment.Provider, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name()] = p
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = payment.ProviderPaystack
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &PaymentHandlers{
		plans:           cfg.Plans,
		subs:            cfg.Subscriptions,
		providers:       providers,
		defaultProvider: cfg.DefaultProvider,
		currency:        cfg.Currency,
		callbackURL:     cfg.CallbackURL,
		now:             cfg.Now,
	}
}

// InitializePaymentRequest is the body of POST /payments/initialize.
type InitializePaymentRequest struct {
	PlanID      string `json:"plan_id" validate:"required,max=64"`
	Provider    string `json:"provider,omitempty" validate:"omitempty,oneof=paystack stripe"`
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,max=2048,http_url"`
}

// InitializePaymentResponse tells the client where to complete payment.
type InitializePaymentResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	Provider         string `json:"provider"`
}

// InitializePayment starts a hosted checkout for the authenticated user.
// POST /payments/initialize
//
// The user and plan ids are attached as transaction metadata; the webhook processor
// relies on them after re-verifying the transaction.
func (h *PaymentHandlers) InitializePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req InitializePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if msg := validateStruct(req); msg != "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = h.defaultProvider
	}
	provider, ok := h.providers[providerName]
	if !ok {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeProviderUnavailable, "Payment provider is not available")
		return
	}

	plan, err := h.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, payment.ErrPlanNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodePlanNotFound, "Plan not found")
			return
		}
		slog.ErrorContext(ctx, "failed to load plan", "plan_id", req.PlanID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load plan")
		return
	}
	if !plan.Active {
		WriteError(w, ctx, http.StatusNotFound, ErrCodePlanNotFound, "Plan not found")
		return
	}

	email := middleware.GetUserEmail(ctx)
	if email == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Account email is required to start a payment")
		return
	}

	currency := plan.Currency
	if currency == "" {
		currency = h.currency
	}
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = h.callbackURL
	}

	checkout, err := provider.InitializeTransaction(ctx, payment.InitializeParams{
		AmountMinor: plan.AmountMinor,
		Email:       email,
		Currency:    currency,
		CallbackURL: callbackURL,
		PlanName:    plan.Name,
		Metadata:    payment.Metadata{UserID: userID, PlanID: plan.ID},
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize transaction",
			"provider", providerName, "plan_id", plan.ID, "user_id", userID, "error", err)
		WriteError(w, ctx, http.StatusBadGateway, ErrCodeProviderError, "Payment provider request failed")
		return
	}

	slog.InfoContext(ctx, "payment initialized",
		"provider", providerName, "plan_id", plan.ID, "user_id", userID, "reference", checkout.Reference)

	writeJSON(w, ctx, http.StatusOK, InitializePaymentResponse{
		AuthorizationURL: checkout.AuthorizationURL,
		Reference:        checkout.Reference,
		Provider:         providerName,
	})
}

// SubscriptionResponse is the caller's subscription with its current access state.
type SubscriptionResponse struct {
	*payment.Subscription
	HasAccess bool `json:"has_access"`
}

// GetSubscription returns the authenticated user's subscription.
// GET /payments/subscription
func (h *PaymentHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeUnauthorized, "Authentication required")
		return
	}

	sub, err := h.subs.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, payment.ErrSubscriptionNotFound) {
			WriteError(w, ctx, http.StatusNotFound, ErrCodeNotFound, "Subscription not found")
			return
		}
		slog.ErrorContext(ctx, "failed to load subscription", "user_id", userID, "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load subscription")
		return
	}

	writeJSON(w, ctx, http.StatusOK, SubscriptionResponse{
		Subscription: sub,
		HasAccess:    sub.GrantsAccess(h.now()),
	})
}

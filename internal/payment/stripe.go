package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
)

// StripeSignatureHeader carries Stripe's timestamped webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig configures a StripeClient.
type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
}

// StripeClient implements Provider using Stripe Checkout Sessions.
type StripeClient struct {
	successURL string
	cancelURL  string
}

// NewStripeClient creates a new Stripe client with the given API key.
func NewStripeClient(cfg StripeConfig) *StripeClient {
	stripe.Key = cfg.APIKey
	return &StripeClient{
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// Name returns "stripe".
func (c *StripeClient) Name() string {
	return ProviderStripe
}

// InitializeTransaction creates a one-off Checkout Session for a plan purchase.
// The session id is the transaction reference.
func (c *StripeClient) InitializeTransaction(ctx context.Context, params InitializeParams) (*Checkout, error) {
	successURL := c.successURL
	if params.CallbackURL != "" {
		successURL = params.CallbackURL
	}

	sessionParams := &stripe.CheckoutSessionParams{
		Params:        stripe.Params{Context: ctx},
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:    stripe.String(successURL),
		CancelURL:     stripe.String(c.cancelURL),
		CustomerEmail: stripe.String(params.Email),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					UnitAmount: stripe.Int64(params.AmountMinor),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.PlanName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if params.Metadata.UserID != "" {
		sessionParams.ClientReferenceID = stripe.String(params.Metadata.UserID)
	}
	for k, v := range params.Metadata.AsMap() {
		sessionParams.AddMetadata(k, v)
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Checkout{
		AuthorizationURL: sess.URL,
		Reference:        sess.ID,
	}, nil
}

// VerifyTransaction retrieves the Checkout Session and reports it as successful
// only when Stripe marks it paid.
func (c *StripeClient) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrVerificationFailed)
	}

	sess, err := session.Get(reference, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	status := string(sess.PaymentStatus)
	if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		status = TransactionStatusSuccess
	}
	return &Transaction{
		Reference: sess.ID,
		Status:    status,
		Metadata:  MetadataFromMap(sess.Metadata),
	}, nil
}

// ParseStripeWebhook verifies a Stripe-Signature header against the raw body
// and maps the event onto the provider-neutral Event.
func ParseStripeWebhook(body []byte, signature, secret string) (Event, error) {
	if signature == "" {
		return Event{}, ErrMissingSignature
	}
	if len(body) == 0 {
		return Event{}, ErrEmptyBody
	}

	evt, err := webhook.ConstructEventWithOptions(body, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	out := Event{
		Provider: ProviderStripe,
		ID:       evt.ID,
		Type:     string(evt.Type),
		Payload:  body,
	}
	switch out.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		out.Kind = KindSuccess
	case "checkout.session.async_payment_failed":
		out.Kind = KindFailure
	default:
		out.Kind = KindOther
	}

	if out.Kind != KindOther && evt.Data != nil {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
		}
		out.Reference = sess.ID
		out.Metadata = MetadataFromMap(sess.Metadata)
	}
	return out, nil
}

package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
)

// Transaction status reported by a provider for a confirmed payment.
const TransactionStatusSuccess = "success"

// ErrVerificationFailed is returned when a provider cannot confirm a transaction.
var ErrVerificationFailed = errors.New("transaction verification failed")

// Provider is a payment provider the academy can bill through.
type Provider interface {
	// Name returns the provider identifier stored on events and subscriptions.
	Name() string

	// InitializeTransaction starts a hosted checkout for a plan purchase.
	InitializeTransaction(ctx context.Context, params InitializeParams) (*Checkout, error)

	// VerifyTransaction fetches the provider's authoritative view of a transaction.
	// Transport failures and non-success API responses are returned as errors.
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
}

// InitializeParams describes a checkout to start.
type InitializeParams struct {
	AmountMinor int64
	Email       string
	Currency    string
	CallbackURL string
	PlanName    string
	Metadata    Metadata
}

// Checkout is the result of starting a hosted checkout.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

// Transaction is a provider's view of a single payment attempt.
type Transaction struct {
	Reference string
	Status    string // provider status, "success" when paid
	Metadata  Metadata
}

// Succeeded reports whether the provider confirmed the payment.
func (t *Transaction) Succeeded() bool {
	return t != nil && t.Status == TransactionStatusSuccess
}

// Metadata is the correlation data attached to a transaction at checkout.
type Metadata struct {
	UserID string `json:"userId,omitempty"`
	PlanID string `json:"planId,omitempty"`
}

// Complete reports whether both user and plan are present.
func (m Metadata) Complete() bool {
	return m.UserID != "" && m.PlanID != ""
}

// AsMap returns the metadata as a string map for providers that only accept strings.
func (m Metadata) AsMap() map[string]string {
	out := make(map[string]string, 2)
	if m.UserID != "" {
		out["userId"] = m.UserID
	}
	if m.PlanID != "" {
		out["planId"] = m.PlanID
	}
	return out
}

// MetadataFromMap reads metadata from a string map.
func MetadataFromMap(m map[string]string) Metadata {
	return Metadata{UserID: m["userId"], PlanID: m["planId"]}
}

// UnmarshalJSON accepts metadata as an object, a JSON-encoded string, or an empty value.
// Ids may be strings or numbers; snake_case keys are accepted as a fallback.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" || s[0] != '{' {
			return nil
		}
		data = []byte(s)
	}
	if data[0] != '{' {
		// Paystack sends 0 or "" when no metadata was attached.
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.UserID = firstString(raw, "userId", "user_id")
	m.PlanID = firstString(raw, "planId", "plan_id")
	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

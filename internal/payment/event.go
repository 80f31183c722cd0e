package payment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedEvent is returned when a verified webhook body cannot be decoded.
// Callers still record such bodies with UnparseableEvent.
var ErrMalformedEvent = errors.New("malformed webhook event")

// EventTypeUnparseable is stored for verified bodies that could not be decoded.
const EventTypeUnparseable = "unparseable"

// Kind classifies an event for the processor.
type Kind int

const (
	// KindOther events are recorded and acknowledged without further action.
	KindOther Kind = iota
	// KindSuccess events claim a completed payment and trigger re-verification.
	KindSuccess
	// KindFailure events mark the matching subscription past due.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	default:
		return "other"
	}
}

// Event is a signature-verified webhook delivery in provider-neutral form.
type Event struct {
	Provider  string
	ID        string // Provider event id, empty when the provider sends none
	Type      string
	Kind      Kind
	Reference string
	Metadata  Metadata
	Payload   []byte
}

// IdempotencyKey returns the event id, falling back to the transaction reference.
func (e Event) IdempotencyKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Reference
}

// paystackEnvelope is the subset of a Paystack webhook body the processor needs.
type paystackEnvelope struct {
	ID    json.RawMessage `json:"id"`
	Event string          `json:"event"`
	Data  struct {
		Reference string   `json:"reference"`
		Status    string   `json:"status"`
		Metadata  Metadata `json:"metadata"`
	} `json:"data"`
}

// ParsePaystackEvent decodes a verified Paystack webhook body.
// The body's own status field is kept out of the Event on purpose: success is only
// ever established through VerifyTransaction.
func ParsePaystackEvent(body []byte) (Event, error) {
	var env paystackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	}

	evt := Event{
		Provider:  ProviderPaystack,
		ID:        rawID(env.ID),
		Type:      env.Event,
		Reference: env.Data.Reference,
		Metadata:  env.Data.Metadata,
		Payload:   body,
	}
	switch env.Event {
	case "charge.success":
		evt.Kind = KindSuccess
	case "charge.failed":
		evt.Kind = KindFailure
	default:
		evt.Kind = KindOther
	}

	if evt.IdempotencyKey() == "" {
		// Events such as subscription.create carry neither; the body itself is the key.
		evt.ID = BodyDigest(body)
	}
	return evt, nil
}

// UnparseableEvent wraps a verified body that could not be decoded so it is still
// recorded once, under its digest, for reconciliation.
func UnparseableEvent(provider string, body []byte) Event {
	return Event{
		Provider: provider,
		ID:       BodyDigest(body),
		Type:     EventTypeUnparseable,
		Kind:     KindOther,
		Payload:  body,
	}
}

// BodyDigest returns "sha256:" followed by the hex SHA-256 of body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// rawID renders a JSON string or number id as a string.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

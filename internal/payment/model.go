// Package payment provides models and services for subscription payment processing.
package payment

import "time"

// Subscription status values.
const (
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusInactive = "inactive"
)

// Plan billing intervals.
const (
	IntervalMonthly = "monthly"
	IntervalOneTime = "one_time"
)

// Provider names.
const (
	ProviderPaystack = "paystack"
	ProviderStripe   = "stripe"
)

// SentinelPeriodEnd marks a subscription that never expires.
// Plans that are not billed monthly receive this value instead of a nil period end,
// so any expiry sweep must treat it as "lifetime".
var SentinelPeriodEnd = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// PaymentEvent is the append-only audit record of a verified webhook delivery.
type PaymentEvent struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	EventID    string    `json:"event_id"`   // Provider event id, or the transaction reference
	EventType  string    `json:"event_type"` // e.g. charge.success
	Payload    []byte    `json:"-"`          // Raw body as received
	ReceivedAt time.Time `json:"received_at"`
}

// Subscription is the single subscription row owned by a user.
type Subscription struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	PlanID           string     `json:"plan_id"`
	Status           string     `json:"status"` // active, past_due, inactive
	Provider         string     `json:"provider"`
	ProviderRef      string     `json:"provider_ref"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty"`
}

// GrantsAccess reports whether the subscription is active at the given instant.
func (s *Subscription) GrantsAccess(now time.Time) bool {
	if s == nil || s.Status != StatusActive {
		return false
	}
	return s.CurrentPeriodEnd == nil || s.CurrentPeriodEnd.After(now)
}

// Plan is a purchasable subscription plan.
type Plan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Interval    string `json:"interval"`     // monthly, one_time
	AmountMinor int64  `json:"amount_minor"` // Amount in the currency's minor unit (kobo, cents)
	Currency    string `json:"currency"`
	Active      bool   `json:"active"`
}

// PeriodEnd returns the end of the access period for a payment confirmed at now.
func (p *Plan) PeriodEnd(now time.Time) time.Time {
	if p.Interval == IntervalMonthly {
		return now.AddDate(0, 1, 0)
	}
	return SentinelPeriodEnd
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/fxacademy/internal/tracing"
)

// Outcome is the result of processing one verified webhook event.
type Outcome string

// Processing outcomes.
const (
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeActivated  Outcome = "activated"
	OutcomePastDue    Outcome = "past_due"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeUnresolved Outcome = "unresolved"
)

// ErrRecordEvent wraps a failure to append the payment event.
// Without the row a redelivery could be processed twice, so callers must surface it.
var ErrRecordEvent = errors.New("failed to record payment event")

// Reasons attached to a ReconcilableError.
const (
	ReasonUnknownProvider   = "unknown_provider"
	ReasonMissingReference  = "missing_reference"
	ReasonVerifyFailed      = "verification_failed"
	ReasonNotSuccessful     = "payment_not_successful"
	ReasonMissingMetadata   = "missing_metadata"
	ReasonPlanLookup        = "plan_lookup_failed"
	ReasonSubscriptionWrite = "subscription_write_failed"
)

// ReconcilableError reports an event that was durably recorded but whose business
// outcome could not be applied. The stored payload is the input for reconciliation.
type ReconcilableError struct {
	Provider string
	EventKey string
	Reason   string
	Err      error
}

func (e *ReconcilableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("unresolved %s event %s: %s", e.Provider, e.EventKey, e.Reason)
	}
	return fmt.Sprintf("unresolved %s event %s: %s: %v", e.Provider, e.EventKey, e.Reason, e.Err)
}

func (e *ReconcilableError) Unwrap() error {
	return e.Err
}

// DefaultVerifyTimeout bounds provider re-verification within a webhook request.
const DefaultVerifyTimeout = 10 * time.Second

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// VerifyTimeout bounds each re-verification call. Expiry counts as verification failure.
	VerifyTimeout time.Duration
	// Logger for processing activity.
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Processor turns verified webhook events into idempotent records and subscription changes.
type Processor struct {
	events    EventStore
	subs      SubscriptionStore
	plans     PlanStore
	providers map[string]Provider

	verifyTimeout time.Duration
	logger        *slog.Logger
	metrics       *Metrics
	now           func() time.Time
}

// NewProcessor creates a Processor. providers are indexed by Name.
func NewProcessor(cfg ProcessorConfig, events EventStore, subs SubscriptionStore, plans PlanStore, providers ...Provider) *Processor {
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	return &Processor{
		events:        events,
		subs:          subs,
		plans:         plans,
		providers:     byName,
		verifyTimeout: cfg.VerifyTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}
}

// Process records evt exactly once and applies its subscription transition.
//
// A nil error or a *ReconcilableError both mean the event is durably recorded and the
// provider should be acknowledged. Any other error wraps ErrRecordEvent.
func (p *Processor) Process(ctx context.Context, evt Event) (outcome Outcome, err error) {
	key := evt.IdempotencyKey()
	ctx, endSpan := tracing.StartSpan(ctx, "payment.process_webhook",
		attribute.String("payment.provider", evt.Provider),
		attribute.String("payment.event_type", evt.Type),
		attribute.String("payment.event_key", key),
	)
	defer func() {
		if outcome != "" {
			p.metrics.IncWebhookEvent(evt.Provider, outcome)
			tracing.SetAttributes(ctx, attribute.String("payment.outcome", string(outcome)))
		}
		var rerr *ReconcilableError
		if errors.As(err, &rerr) {
			endSpan(nil)
			return
		}
		endSpan(err)
	}()

	seen, err := p.events.HasProcessed(ctx, evt.Provider, evt.Type, key)
	if err != nil {
		// The unique constraint on insert still guards against double processing.
		p.logger.WarnContext(ctx, "duplicate check failed, relying on insert constraint",
			"provider", evt.Provider, "event_key", key, "error", err)
	} else if seen {
		p.logger.InfoContext(ctx, "webhook event already processed, ignoring",
			"provider", evt.Provider, "event_type", evt.Type, "event_key", key)
		return OutcomeDuplicate, nil
	}

	record := &PaymentEvent{
		Provider:   evt.Provider,
		EventID:    key,
		EventType:  evt.Type,
		Payload:    evt.Payload,
		ReceivedAt: p.now().UTC(),
	}
	if err := p.events.RecordEvent(ctx, record); err != nil {
		if errors.Is(err, ErrEventAlreadyProcessed) {
			p.logger.InfoContext(ctx, "concurrent delivery already recorded event",
				"provider", evt.Provider, "event_type", evt.Type, "event_key", key)
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("%w: %w", ErrRecordEvent, err)
	}

	switch evt.Kind {
	case KindSuccess:
		return p.activate(ctx, evt)
	case KindFailure:
		return p.markPastDue(ctx, evt)
	default:
		p.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"provider", evt.Provider, "event_type", evt.Type, "event_key", key)
		return OutcomeIgnored, nil
	}
}

// activate re-verifies a claimed success with the provider and activates the subscription.
func (p *Processor) activate(ctx context.Context, evt Event) (Outcome, error) {
	provider, ok := p.providers[evt.Provider]
	if !ok {
		return p.unresolved(evt, ReasonUnknownProvider, nil)
	}
	if evt.Reference == "" {
		return p.unresolved(evt, ReasonMissingReference, nil)
	}

	txn, err := p.verify(ctx, provider, evt.Reference)
	if err != nil {
		return p.unresolved(evt, ReasonVerifyFailed, err)
	}
	if !txn.Succeeded() {
		return p.unresolved(evt, ReasonNotSuccessful, fmt.Errorf("provider status %q", txn.Status))
	}
	if !txn.Metadata.Complete() {
		return p.unresolved(evt, ReasonMissingMetadata, nil)
	}

	plan, err := p.plans.GetByID(ctx, txn.Metadata.PlanID)
	if err != nil {
		return p.unresolved(evt, ReasonPlanLookup, err)
	}

	periodEnd := plan.PeriodEnd(p.now().UTC())
	ref := txn.Reference
	if ref == "" {
		ref = evt.Reference
	}
	sub := &Subscription{
		UserID:           txn.Metadata.UserID,
		PlanID:           plan.ID,
		Status:           StatusActive,
		Provider:         evt.Provider,
		ProviderRef:      ref,
		CurrentPeriodEnd: &periodEnd,
	}
	if err := p.subs.Upsert(ctx, sub); err != nil {
		return p.unresolved(evt, ReasonSubscriptionWrite, err)
	}

	p.logger.InfoContext(ctx, "subscription activated",
		"provider", evt.Provider,
		"reference", ref,
		"user_id", sub.UserID,
		"plan_id", sub.PlanID,
		"current_period_end", periodEnd)
	return OutcomeActivated, nil
}

// verify calls the provider under the configured timeout.
func (p *Processor) verify(ctx context.Context, provider Provider, reference string) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	start := time.Now() // wall clock, for latency only
	txn, err := provider.VerifyTransaction(ctx, reference)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		p.metrics.ObserveVerify(provider.Name(), "error", elapsed)
	case txn.Succeeded():
		p.metrics.ObserveVerify(provider.Name(), "success", elapsed)
	default:
		p.metrics.ObserveVerify(provider.Name(), "unpaid", elapsed)
	}
	return txn, err
}

// markPastDue flags the subscription tied to a failed charge. No row is ever created.
func (p *Processor) markPastDue(ctx context.Context, evt Event) (Outcome, error) {
	if evt.Metadata.UserID == "" || evt.Reference == "" {
		return p.unresolved(evt, ReasonMissingMetadata, nil)
	}

	updated, err := p.subs.MarkPastDue(ctx, evt.Metadata.UserID, evt.Reference)
	if err != nil {
		return p.unresolved(evt, ReasonSubscriptionWrite, err)
	}
	if !updated {
		p.logger.InfoContext(ctx, "failed charge has no matching subscription",
			"provider", evt.Provider,
			"reference", evt.Reference,
			"user_id", evt.Metadata.UserID)
		return OutcomeIgnored, nil
	}

	p.logger.InfoContext(ctx, "subscription marked past due",
		"provider", evt.Provider,
		"reference", evt.Reference,
		"user_id", evt.Metadata.UserID)
	return OutcomePastDue, nil
}

func (p *Processor) unresolved(evt Event, reason string, err error) (Outcome, error) {
	return OutcomeUnresolved, &ReconcilableError{
		Provider: evt.Provider,
		EventKey: evt.IdempotencyKey(),
		Reason:   reason,
		Err:      err,
	}
}

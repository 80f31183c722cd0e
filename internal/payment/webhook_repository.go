package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onnwee/fxacademy/internal/tracing"
)

// ErrEventAlreadyProcessed is returned when attempting to record a duplicate webhook event.
var ErrEventAlreadyProcessed = errors.New("webhook event already processed")

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// EventStore is the append-only payment_events log used for idempotency.
type EventStore interface {
	// HasProcessed checks whether (provider, eventType, eventID) was already recorded.
	HasProcessed(ctx context.Context, provider, eventType, eventID string) (bool, error)

	// RecordEvent appends a payment event.
	// Returns ErrEventAlreadyProcessed if the key was already recorded, including when
	// a concurrent delivery won the race to insert it.
	RecordEvent(ctx context.Context, event *PaymentEvent) error
}

func eventKey(provider, eventType, eventID string) string {
	return provider + "|" + eventType + "|" + eventID
}

// InMemoryEventStore implements EventStore with in-memory storage.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*PaymentEvent
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[string]*PaymentEvent),
	}
}

// HasProcessed checks if an event has already been recorded.
func (s *InMemoryEventStore) HasProcessed(ctx context.Context, provider, eventType, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.events[eventKey(provider, eventType, eventID)]
	return exists, nil
}

// RecordEvent records a webhook event.
func (s *InMemoryEventStore) RecordEvent(ctx context.Context, event *PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey(event.Provider, event.EventType, event.EventID)
	if _, exists := s.events[key]; exists {
		return ErrEventAlreadyProcessed
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	copied := *event
	copied.Payload = append([]byte(nil), event.Payload...)
	s.events[key] = &copied
	return nil
}

// Count returns the number of recorded events.
func (s *InMemoryEventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// PostgresEventStore implements EventStore using the payment_events table.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgresEventStore.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// HasProcessed checks for an existing payment_events row.
func (s *PostgresEventStore) HasProcessed(ctx context.Context, provider, eventType, eventID string) (exists bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_events", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT EXISTS(
		SELECT 1 FROM payment_events
		WHERE provider = $1 AND event_type = $2 AND event_id = $3
	)`
	if err = s.db.QueryRowContext(ctx, query, provider, eventType, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check payment event: %w", err)
	}
	return exists, nil
}

// RecordEvent inserts a payment_events row, mapping unique violations to ErrEventAlreadyProcessed.
func (s *PostgresEventStore) RecordEvent(ctx context.Context, event *PaymentEvent) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "payment_events", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	query := `INSERT INTO payment_events (id, provider, event_type, event_id, payload, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Provider, event.EventType, event.EventID, event.Payload, event.ReceivedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("failed to insert payment event: %w", err)
	}
	return nil
}

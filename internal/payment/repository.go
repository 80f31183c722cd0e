package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/fxacademy/internal/tracing"
)

// ErrSubscriptionNotFound is returned when a user has no subscription row.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// SubscriptionStore persists the one-row-per-user subscription state.
type SubscriptionStore interface {
	// GetByUserID returns the user's subscription or ErrSubscriptionNotFound.
	GetByUserID(ctx context.Context, userID string) (*Subscription, error)

	// Upsert inserts or overwrites the subscription row keyed by UserID.
	Upsert(ctx context.Context, sub *Subscription) error

	// MarkPastDue sets status past_due on the user's row when its provider reference matches.
	// Reports whether a row was updated; never creates a row.
	MarkPastDue(ctx context.Context, userID, providerRef string) (bool, error)
}

// InMemorySubscriptionStore implements SubscriptionStore with in-memory storage.
type InMemorySubscriptionStore struct {
	mu     sync.RWMutex
	byUser map[string]*Subscription
}

// NewInMemorySubscriptionStore creates a new in-memory subscription store.
func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		byUser: make(map[string]*Subscription),
	}
}

// GetByUserID retrieves a subscription by user ID.
func (s *InMemorySubscriptionStore) GetByUserID(ctx context.Context, userID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.byUser[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// Upsert inserts or replaces the subscription for sub.UserID.
func (s *InMemorySubscriptionStore) Upsert(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.byUser[sub.UserID]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		if sub.ID == "" {
			sub.ID = uuid.New().String()
		}
		sub.CreatedAt = &now
	}
	sub.UpdatedAt = &now

	s.byUser[sub.UserID] = copySubscription(sub)
	return nil
}

// MarkPastDue flags the user's subscription past due if providerRef matches.
func (s *InMemorySubscriptionStore) MarkPastDue(ctx context.Context, userID, providerRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.byUser[userID]
	if !ok || sub.ProviderRef != providerRef {
		return false, nil
	}
	now := time.Now()
	sub.Status = StatusPastDue
	sub.UpdatedAt = &now
	return true, nil
}

func copySubscription(sub *Subscription) *Subscription {
	copied := *sub
	if sub.CurrentPeriodEnd != nil {
		end := *sub.CurrentPeriodEnd
		copied.CurrentPeriodEnd = &end
	}
	return &copied
}

// PostgresSubscriptionStore implements SubscriptionStore using the subscriptions table.
type PostgresSubscriptionStore struct {
	db *sql.DB
}

// NewPostgresSubscriptionStore creates a new PostgresSubscriptionStore.
func NewPostgresSubscriptionStore(db *sql.DB) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{db: db}
}

// GetByUserID retrieves a subscription by user ID.
func (s *PostgresSubscriptionStore) GetByUserID(ctx context.Context, userID string) (sub *Subscription, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "subscriptions", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT id, user_id, plan_id, status, provider, provider_ref, current_period_end, created_at, updated_at
	          FROM subscriptions WHERE user_id = $1`

	var (
		periodEnd            sql.NullTime
		createdAt, updatedAt time.Time
	)
	sub = &Subscription{}
	err = s.db.QueryRowContext(ctx, query, userID).Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.Provider, &sub.ProviderRef,
		&periodEnd, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	sub.CreatedAt = &createdAt
	sub.UpdatedAt = &updatedAt
	return sub, nil
}

// Upsert writes the subscription in a single statement keyed on user_id.
func (s *PostgresSubscriptionStore) Upsert(ctx context.Context, sub *Subscription) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "subscriptions", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}

	query := `INSERT INTO subscriptions
	              (id, user_id, plan_id, status, provider, provider_ref, current_period_end, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	          ON CONFLICT (user_id) DO UPDATE SET
	              plan_id = EXCLUDED.plan_id,
	              status = EXCLUDED.status,
	              provider = EXCLUDED.provider,
	              provider_ref = EXCLUDED.provider_ref,
	              current_period_end = EXCLUDED.current_period_end,
	              updated_at = NOW()
	          RETURNING id, created_at, updated_at`

	var createdAt, updatedAt time.Time
	err = s.db.QueryRowContext(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.Provider, sub.ProviderRef, sub.CurrentPeriodEnd,
	).Scan(&sub.ID, &createdAt, &updatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	sub.CreatedAt = &createdAt
	sub.UpdatedAt = &updatedAt
	return nil
}

// MarkPastDue updates status to past_due, leaving current_period_end untouched.
func (s *PostgresSubscriptionStore) MarkPastDue(ctx context.Context, userID, providerRef string) (updated bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "subscriptions", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `UPDATE subscriptions SET status = $3, updated_at = NOW()
	          WHERE user_id = $1 AND provider_ref = $2`
	result, err := s.db.ExecContext(ctx, query, userID, providerRef, StatusPastDue)
	if err != nil {
		return false, fmt.Errorf("failed to mark subscription past due: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

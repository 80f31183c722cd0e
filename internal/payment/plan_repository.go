package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/onnwee/fxacademy/internal/tracing"
)

// ErrPlanNotFound is returned when a plan id is unknown.
var ErrPlanNotFound = errors.New("plan not found")

// PlanStore provides read access to subscription plans.
type PlanStore interface {
	GetByID(ctx context.Context, id string) (*Plan, error)
	ListActive(ctx context.Context) ([]Plan, error)
}

// InMemoryPlanStore implements PlanStore with a fixed plan set.
type InMemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

// NewInMemoryPlanStore creates a plan store seeded with plans.
func NewInMemoryPlanStore(plans ...Plan) *InMemoryPlanStore {
	s := &InMemoryPlanStore{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		s.plans[p.ID] = p
	}
	return s
}

// GetByID retrieves a plan by ID.
func (s *InMemoryPlanStore) GetByID(ctx context.Context, id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

// ListActive returns active plans ordered by amount.
func (s *InMemoryPlanStore) ListActive(ctx context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AmountMinor == out[j].AmountMinor {
			return out[i].ID < out[j].ID
		}
		return out[i].AmountMinor < out[j].AmountMinor
	})
	return out, nil
}

// PostgresPlanStore implements PlanStore using the plans table.
type PostgresPlanStore struct {
	db *sql.DB
}

// NewPostgresPlanStore creates a new PostgresPlanStore.
func NewPostgresPlanStore(db *sql.DB) *PostgresPlanStore {
	return &PostgresPlanStore{db: db}
}

// GetByID retrieves a plan by ID.
func (s *PostgresPlanStore) GetByID(ctx context.Context, id string) (plan *Plan, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "plans", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT id, name, billing_interval, amount_minor, currency, active FROM plans WHERE id = $1`
	plan = &Plan{}
	err = s.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID, &plan.Name, &plan.Interval, &plan.AmountMinor, &plan.Currency, &plan.Active,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListActive returns active plans ordered by amount.
func (s *PostgresPlanStore) ListActive(ctx context.Context) (plans []Plan, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "plans", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT id, name, billing_interval, amount_minor, currency, active
	          FROM plans WHERE active ORDER BY amount_minor, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Plan
		if err = rows.Scan(&p.ID, &p.Name, &p.Interval, &p.AmountMinor, &p.Currency, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

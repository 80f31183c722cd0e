package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/fxacademy/internal/tracing"
)

// Repository defines methods for idempotency key persistence.
type Repository interface {
	// Get returns the record for (scope, key) or ErrKeyNotFound.
	Get(ctx context.Context, scope, key string) (*Record, error)

	// Store saves a new record. Returns ErrKeyExists if (scope, key) is taken.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan removes records created before now minus age.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type recordKey struct {
	scope string
	key   string
}

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory idempotency key repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records: make(map[recordKey]Record),
		now:     time.Now,
	}
}

// Get retrieves a record by scope and key.
func (r *InMemoryRepository) Get(_ context.Context, scope, key string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[recordKey{scope, key}]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return &record, nil
}

// Store saves a new record.
func (r *InMemoryRepository) Store(_ context.Context, record *Record) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{record.Scope, record.Key}
	if _, exists := r.records[k]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	r.records[k] = *record
	return nil
}

// DeleteOlderThan removes expired records and reports how many were deleted.
func (r *InMemoryRepository) DeleteOlderThan(_ context.Context, age time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-age)
	var deleted int64
	for k, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, k)
			deleted++
		}
	}
	return deleted, nil
}

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository on the idempotency_keys table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repository backed by db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get retrieves a record by scope and key.
func (r *PostgresRepository) Get(ctx context.Context, scope, key string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	const query = `
		SELECT scope, key, method, route, request_hash, response_hash,
		       response_body, response_status_code, created_at
		FROM idempotency_keys
		WHERE scope = $1 AND key = $2`

	var record Record
	err = r.db.QueryRowContext(ctx, query, scope, key).Scan(
		&record.Scope, &record.Key, &record.Method, &record.Route,
		&record.RequestHash, &record.ResponseHash, &record.ResponseBody,
		&record.ResponseStatusCode, &record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return &record, nil
}

// Store inserts a record, mapping a primary-key conflict to ErrKeyExists.
func (r *PostgresRepository) Store(ctx context.Context, record *Record) (err error) {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	const query = `
		INSERT INTO idempotency_keys
			(scope, key, method, route, request_hash, response_hash, response_body, response_status_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))
		RETURNING created_at`

	var createdAt *time.Time
	if !record.CreatedAt.IsZero() {
		createdAt = &record.CreatedAt
	}

	err = r.db.QueryRowContext(ctx, query,
		record.Scope, record.Key, record.Method, record.Route,
		record.RequestHash, record.ResponseHash, record.ResponseBody,
		record.ResponseStatusCode, createdAt,
	).Scan(&record.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return ErrKeyExists
		}
		return fmt.Errorf("store idempotency key: %w", err)
	}
	return nil
}

// DeleteOlderThan removes expired records.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "idempotency_keys", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return res.RowsAffected()
}

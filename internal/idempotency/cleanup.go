package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/fxacademy/internal/jobs"
)

// DefaultExpiry is how long a stored response can be replayed.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys removes records older than expiry and returns the number deleted.
func CleanupOldKeys(ctx context.Context, repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(ctx, expiry)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		slog.InfoContext(ctx, "cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys every interval until ctx is canceled.
// It blocks; start it in a goroutine.
func RunPeriodicCleanup(ctx context.Context, repo Repository, interval, expiry time.Duration, metrics *jobs.Metrics) {
	jobs.Periodic(ctx, jobs.JobTypeIdempotencyCleanup, interval, metrics, func(ctx context.Context) error {
		_, err := CleanupOldKeys(ctx, repo, expiry)
		return err
	})
}

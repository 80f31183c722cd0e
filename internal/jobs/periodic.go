package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Func is one execution of a background job.
type Func func(ctx context.Context) error

// Periodic runs fn once immediately and then on every tick of interval until ctx is done.
// Each run is timed and counted under jobType. Failures are logged and do not stop the loop.
func Periodic(ctx context.Context, jobType string, interval time.Duration, metrics *Metrics, fn Func) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	RunOnce(ctx, jobType, metrics, fn)
	for {
		select {
		case <-ticker.C:
			RunOnce(ctx, jobType, metrics, fn)
		case <-ctx.Done():
			slog.Info("stopping background job", "job_type", jobType)
			return
		}
	}
}

// RunOnce executes fn a single time and records the result.
func RunOnce(ctx context.Context, jobType string, metrics *Metrics, fn Func) error {
	start := time.Now()
	err := fn(ctx)
	metrics.ObserveJobDuration(jobType, time.Since(start).Seconds())

	if err != nil {
		metrics.IncJobsTotal(jobType, StatusFailure)
		metrics.IncJobErrors(jobType, errorType(err))
		slog.ErrorContext(ctx, "background job failed", "job_type", jobType, "error", err)
		return err
	}
	metrics.IncJobsTotal(jobType, StatusSuccess)
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

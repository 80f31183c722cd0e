// Package health implements the dependency checks behind the readiness endpoint.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Status values reported per dependency.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Result is the outcome of one dependency check.
type Result struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Report aggregates all dependency checks.
type Report struct {
	Ready  bool     `json:"ready"`
	Checks []Result `json:"checks"`
}

// CheckAll runs every checker concurrently, each bounded by timeout.
// Results are sorted by name.
func CheckAll(ctx context.Context, checkers map[string]Checker, timeout time.Duration) Report {
	results := make([]Result, 0, len(checkers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := checker.HealthCheck(checkCtx)
			res := Result{Name: name, Status: StatusUp, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })

	report := Report{Ready: true, Checks: results}
	for _, r := range results {
		if r.Status != StatusUp {
			report.Ready = false
		}
	}
	return report
}

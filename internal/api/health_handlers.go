package api

import (
	"net/http"
	"time"

	"github.com/onnwee/fxacademy/internal/health"
)

// DefaultReadinessTimeout bounds each dependency check of the readiness probe.
const DefaultReadinessTimeout = 2 * time.Second

// HealthHandlers provides liveness and readiness endpoints.
type HealthHandlers struct {
	checkers map[string]health.Checker
	timeout  time.Duration
}

// NewHealthHandlers creates health handlers. checkers are keyed by dependency name
// (for example "database", "redis") and may be empty.
func NewHealthHandlers(checkers map[string]health.Checker, timeout time.Duration) *HealthHandlers {
	if timeout <= 0 {
		timeout = DefaultReadinessTimeout
	}
	if checkers == nil {
		checkers = map[string]health.Checker{}
	}
	return &HealthHandlers{checkers: checkers, timeout: timeout}
}

// HealthResponse represents the JSON response for the liveness probe.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Health handles GET /health.
// The process is alive if it can respond.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. It returns 503 when any dependency check fails.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	report := health.CheckAll(r.Context(), h.checkers, h.timeout)

	status := http.StatusOK
	if !report.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r.Context(), status, report)
}

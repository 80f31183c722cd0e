package middleware

import (
	"net/http"
	"strconv"
	"time"
)

// knownRoutes are recorded under their own path. Anything else is folded into
// "other" so scanners probing random URLs cannot grow label cardinality.
var knownRoutes = map[string]bool{
	"/payments/webhook":        true,
	"/payments/webhook/stripe": true,
	"/payments/initialize":     true,
	"/payments/subscription":   true,
	"/plans":                   true,
	"/metrics":                 true,
}

// unmatchedRoute is the path label for requests outside knownRoutes.
const unmatchedRoute = "other"

func normalizePath(path string) string {
	if knownRoutes[path] {
		return path
	}
	return unmatchedRoute
}

// HTTPMetrics records request duration, count and response size.
// /health and /ready are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseRecorder(w)
			next.ServeHTTP(rw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rw.statusCode),
				time.Since(start).Seconds(),
				rw.size,
			)
		})
	}
}

package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/fxacademy/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayHeader marks a response served from a stored key.
const IdempotentReplayHeader = "Idempotent-Replayed"

// maxIdempotentBody bounds the request body hashed for key reuse detection.
const maxIdempotentBody = 64 << 10

// captureWriter tees the response so it can be stored after the handler returns.
type captureWriter struct {
	*responseRecorder
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	n, err := w.responseRecorder.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency requires an Idempotency-Key header on POST requests and replays the stored
// 2xx response for a repeated key. Keys are scoped to the authenticated user, so it must
// run after RequireAuth. Reusing a key with a different body is rejected with 422.
func Idempotency(repo idempotency.Repository, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				writeError(w, r, http.StatusBadRequest, ErrCodeMissingIdempotencyKey,
					"Idempotency-Key header is required for this request")
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				msg := "Invalid Idempotency-Key format"
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					msg = "Idempotency-Key exceeds maximum length of 64 characters"
				}
				writeError(w, r, http.StatusBadRequest, ErrCodeInvalidIdempotencyKey, msg)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody+1))
			if err != nil || len(body) > maxIdempotentBody {
				writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "Request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			scope := GetUserID(ctx)
			requestHash := idempotency.Hash(body)

			existing, err := repo.Get(ctx, scope, key)
			switch {
			case err == nil:
				if existing.RequestHash != requestHash || existing.Route != r.URL.Path {
					writeError(w, r, http.StatusUnprocessableEntity, ErrCodeIdempotencyKeyConflict,
						"Idempotency-Key was already used with a different request")
					return
				}
				slog.InfoContext(ctx, "replaying stored response for idempotency key",
					"key", key, "status", existing.ResponseStatusCode)
				metrics.IncIdempotentReplay(normalizePath(r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(IdempotentReplayHeader, "true")
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = io.WriteString(w, existing.ResponseBody)
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				// Storage is degraded; serve the request without replay protection.
				slog.ErrorContext(ctx, "failed to check idempotency key", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			cw := &captureWriter{responseRecorder: newResponseRecorder(w)}
			next.ServeHTTP(cw, r)

			if cw.statusCode < 200 || cw.statusCode >= 300 {
				return
			}

			record := &idempotency.Record{
				Scope:              scope,
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				RequestHash:        requestHash,
				ResponseHash:       idempotency.Hash(cw.body.Bytes()),
				ResponseBody:       cw.body.String(),
				ResponseStatusCode: cw.statusCode,
			}
			if err := repo.Store(ctx, record); err != nil {
				slog.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
			}
		})
	}
}

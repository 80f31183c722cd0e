package middleware

import (
	"encoding/json"
	"net/http"
)

// Error codes written by middleware.
const (
	ErrCodeRateLimited            = "rate_limit_exceeded"
	ErrCodeUnauthorized           = "unauthorized"
	ErrCodeTokenExpired           = "token_expired"
	ErrCodeMissingIdempotencyKey  = "missing_idempotency_key"
	ErrCodeInvalidIdempotencyKey  = "invalid_idempotency_key"
	ErrCodeIdempotencyKeyConflict = "idempotency_key_conflict"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes the API error envelope and records code for request logging.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	SetErrorCode(r.Context(), code)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: message}})
}

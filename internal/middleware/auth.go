package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/fxacademy/internal/auth"
)

// TokenValidator validates bearer access tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.Claims, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" access token
// and stores the user id and email from the token in the request context.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Missing bearer token")
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeError(w, r, http.StatusUnauthorized, ErrCodeTokenExpired, "Access token has expired")
					return
				}
				writeError(w, r, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid access token")
				return
			}

			ctx := SetUserID(r.Context(), claims.UserID())
			ctx = SetUserEmail(ctx, claims.Email)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"sync"
)

type userIDKey struct{}

type userEmailKey struct{}

type errorCodeKey struct{}

type requestStateKey struct{}

// requestState is shared by the outer middlewares and the handler so values set deep in
// the chain (error code, user id) are visible to request logging after the handler returns.
type requestState struct {
	mu        sync.Mutex
	userID    string
	errorCode string
}

func withRequestState(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestStateKey{}).(*requestState); ok {
		return ctx
	}
	return context.WithValue(ctx, requestStateKey{}, &requestState{})
}

func stateFrom(ctx context.Context) *requestState {
	st, _ := ctx.Value(requestStateKey{}).(*requestState)
	return st
}

// SetUserID stores the authenticated user id in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	if st := stateFrom(ctx); st != nil {
		st.mu.Lock()
		st.userID = userID
		st.mu.Unlock()
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID retrieves the user id from context. Returns empty string if not present.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey{}).(string); ok {
		return id
	}
	if st := stateFrom(ctx); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.userID
	}
	return ""
}

// SetUserEmail stores the authenticated user's email in the context.
func SetUserEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, userEmailKey{}, email)
}

// GetUserEmail retrieves the user email from context.
func GetUserEmail(ctx context.Context) string {
	email, _ := ctx.Value(userEmailKey{}).(string)
	return email
}

// SetErrorCode records an error code for the request log.
// Handlers call it when writing an error response.
func SetErrorCode(ctx context.Context, code string) context.Context {
	if st := stateFrom(ctx); st != nil {
		st.mu.Lock()
		st.errorCode = code
		st.mu.Unlock()
	}
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	if st := stateFrom(ctx); st != nil {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.errorCode
	}
	return ""
}

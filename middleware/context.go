package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/entra-shell/identity"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// AccountKey is the context key for the active account
	AccountKey contextKey = "account"
)

// GetRequestIDFromContext retrieves the request ID from context, falling back
// to the id assigned by chi's RequestID middleware.
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetAccountFromContext retrieves the active account from context
func GetAccountFromContext(ctx context.Context) *identity.Account {
	if val := ctx.Value(AccountKey); val != nil {
		if account, ok := val.(*identity.Account); ok {
			return account
		}
	}
	return nil
}

// WithAccount adds the active account to the context
func WithAccount(ctx context.Context, account *identity.Account) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// Package auth carries the bearer-token auth context through the HTTP
// surface. Token issuance is a minimal HMAC-signed opaque scheme,
// enough to exercise the full wire contract without a JWT dependency.
package auth

import (
	"context"

	"strategyexecutor/internal/model"
)

type contextKey string

const userKey contextKey = "user"

// WithUser returns a context carrying the authenticated user, the way
// the HTTP middleware publishes it for downstream handlers.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// GetUserFromContext retrieves the user set by Middleware.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userKey).(*model.User)
	return user, ok
}

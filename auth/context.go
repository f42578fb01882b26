package auth

import (
	"context"
)

type contextKey struct{}

// WithUser stores the decorator in ctx
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext returns the decorator stored by WithUser
func FromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(contextKey{}).(*User)
	return user, ok
}

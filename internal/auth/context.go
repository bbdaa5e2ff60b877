// Package auth resolves the caller identity for each request and guards the
// protected routes.
package auth

import (
	"context"

	"github.com/zhouzirui/career-chat/backend/internal/apperr"
)

type contextKey struct{}

// WithUserID returns a copy of ctx carrying the caller's user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the caller identity if one was resolved.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Require returns the caller identity or apperr.ErrUnauthorized.
func Require(ctx context.Context) (string, error) {
	id, ok := UserID(ctx)
	if !ok {
		return "", apperr.ErrUnauthorized
	}
	return id, nil
}

package auth

import (
	"context"

	"github.com/clawbuds/backend/internal/domain"
)

type clawContextKey struct{}

// WithClaw returns a context carrying the authenticated claw.
func WithClaw(ctx context.Context, c *domain.Claw) context.Context {
	return context.WithValue(ctx, clawContextKey{}, c)
}

// ClawFrom returns the authenticated claw, or nil outside an authenticated
// request.
func ClawFrom(ctx context.Context) *domain.Claw {
	c, _ := ctx.Value(clawContextKey{}).(*domain.Claw)
	return c
}

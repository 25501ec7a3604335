package httpserver

import (
	"context"

	"github.com/and161185/ident/internal/token"
)

type ctxKey string

const claimsKey ctxKey = "ident.claims"

// WithClaims stores verified access token claims in context.
func WithClaims(ctx context.Context, cl *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, cl)
}

// ClaimsFromCtx fetches verified claims from context.
func ClaimsFromCtx(ctx context.Context) (*token.Claims, bool) {
	cl, ok := ctx.Value(claimsKey).(*token.Claims)
	return cl, ok
}

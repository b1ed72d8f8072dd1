package api

import (
	"context"

	"github.com/org/envvault/internal/policy"
)

type contextKey string

const ctxKeyPrincipal contextKey = "principal"

func withPrincipal(ctx context.Context, p policy.Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func principalFromCtx(ctx context.Context) (policy.Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(policy.Principal)
	return p, ok
}

package auth

import (
	"context"

	"chatwire/pkg/models"
)

type ctxIdentityKey struct{}

// WithIdentity returns a context carrying the verified caller identity.
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentityKey{}, id)
}

// IdentityFromContext returns the verified identity set by the auth
// middleware, or ok=false when the request was not authenticated.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	v := ctx.Value(ctxIdentityKey{})
	if v == nil {
		return models.Identity{}, false
	}
	id, ok := v.(models.Identity)
	return id, ok
}

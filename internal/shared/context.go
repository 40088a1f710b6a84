package shared

import (
	"context"

	"github.com/google/uuid"
)

// Identity names the tenant and user a request acts for. The edge gateway
// authenticates upstream; inside the service the identity is trusted input
// and only used for scoping.
type Identity struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

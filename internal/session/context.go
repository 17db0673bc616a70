package session

import (
	"context"

	"github.com/google/uuid"
)

type identityContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the
// context. Only the request gate writes it; downstream handlers must
// never accept an identity supplied by the client directly.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &identity)
}

// IdentityFromContext extracts the authenticated identity.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return Identity{}, false
	}
	return *v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	identity, ok := IdentityFromContext(ctx)
	if !ok || identity.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return identity.UserID, true
}

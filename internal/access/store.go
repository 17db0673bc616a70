package access

import (
	"context"

	"github.com/google/uuid"
)

// GrantStore manages both grant variants. Lookups return ErrNotFound
// when no grant exists; the resolver treats that as plain absence.
type GrantStore interface {
	UpsertPrivateGrant(ctx context.Context, grant *PrivateGrant) error
	FindPrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) (*PrivateGrant, error)
	DeletePrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) error

	UpsertPublicLink(ctx context.Context, link *PublicLink) error
	FindPublicLinkByItem(ctx context.Context, itemID uuid.UUID) (*PublicLink, error)
	FindPublicLink(ctx context.Context, linkID string) (*PublicLink, error)
	DeletePublicLink(ctx context.Context, itemID uuid.UUID) error
}

package session

import (
	"context"

	"github.com/google/uuid"
)

// TokenStore manages persisted token records.
type TokenStore interface {
	Create(ctx context.Context, rec *TokenRecord) error
	FindByHash(ctx context.Context, kind Kind, tokenHash string) (*TokenRecord, error)

	// Rotate atomically retires the unused, unexpired record matching
	// oldHash for the user and kind and inserts next. When no such
	// record exists it returns ErrNoActiveToken and inserts nothing, so
	// concurrent rotations of the same token have exactly one winner.
	Rotate(ctx context.Context, userID uuid.UUID, kind Kind, oldHash string, next *TokenRecord) error

	MarkUsed(ctx context.Context, id string) error
	MarkUsedByUser(ctx context.Context, userID uuid.UUID, kind Kind) error
}

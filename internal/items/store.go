package items

import (
	"context"

	"github.com/google/uuid"
)

// Store describes persistence operations for the item tree. The
// authorization core only reads it; mutation goes through Service.
type Store interface {
	Create(ctx context.Context, item *Item) error
	Find(ctx context.Context, id uuid.UUID) (*Item, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]*Item, error)
	SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
}

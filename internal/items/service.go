package items

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service validates tree mutations before they reach the store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService constructs a Service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Store exposes the underlying read interface for the resolver.
func (s *Service) Store() Store { return s.store }

// Create inserts a new item owned by ownerID. When parentID is set the
// parent must exist and be a folder.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, parentID *uuid.UUID, name string, kind Kind) (*Item, error) {
	name = strings.TrimSpace(name)
	if name == "" || ownerID == uuid.Nil {
		return nil, ErrInvalidInput
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, ErrInvalidInput
	}
	if parentID != nil {
		parent, err := s.store.Find(ctx, *parentID)
		if err != nil {
			return nil, err
		}
		if parent.Kind != KindFolder {
			return nil, ErrNotFolder
		}
	}

	now := s.now().UTC()
	item := &Item{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		ParentID:  parentID,
		Name:      name,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Find loads a single item.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Item, error) {
	return s.store.Find(ctx, id)
}

// Children lists the direct children of a folder.
func (s *Service) Children(ctx context.Context, parentID uuid.UUID) ([]*Item, error) {
	parent, err := s.store.Find(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Kind != KindFolder {
		return nil, ErrNotFolder
	}
	return s.store.Children(ctx, parentID)
}

// Move re-parents an item. A nil parent makes the item a root. The new
// parent must be a folder, and the item must not appear anywhere on the
// new parent's ancestor chain.
func (s *Service) Move(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	item, err := s.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if parentID != nil {
		if *parentID == item.ID {
			return ErrCycle
		}
		parent, err := s.store.Find(ctx, *parentID)
		if err != nil {
			return err
		}
		if parent.Kind != KindFolder {
			return ErrNotFolder
		}
		if err := s.checkAcyclic(ctx, item.ID, parent); err != nil {
			return err
		}
	}
	return s.store.SetParent(ctx, id, parentID)
}

// checkAcyclic walks from candidate toward the root and fails if moved
// is encountered. The walk is capped at MaxDepth.
func (s *Service) checkAcyclic(ctx context.Context, moved uuid.UUID, candidate *Item) error {
	node := candidate
	for depth := 0; depth < MaxDepth; depth++ {
		if node.ID == moved {
			return ErrCycle
		}
		if node.ParentID == nil {
			return nil
		}
		parent, err := s.store.Find(ctx, *node.ParentID)
		if err != nil {
			return err
		}
		node = parent
	}
	return ErrDepthExceeded
}

package items

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-process concurrency safety.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Item
}

// NewMemoryStore creates an empty tree store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Item)}
}

func (s *MemoryStore) Create(ctx context.Context, item *Item) error {
	if item.ID == uuid.Nil {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id uuid.UUID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) Children(ctx context.Context, parentID uuid.UUID) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*Item
	for _, item := range s.items {
		if item.ParentID != nil && *item.ParentID == parentID {
			cp := *item
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *MemoryStore) SetParent(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.ParentID = parentID
	item.UpdatedAt = time.Now().UTC()
	return nil
}

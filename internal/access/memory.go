package access

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/ids"
)

var _ GrantStore = (*MemoryStore)(nil)

type privateKey struct {
	itemID     uuid.UUID
	sharedWith uuid.UUID
}

// MemoryStore implements GrantStore with in-process concurrency safety.
type MemoryStore struct {
	mu      sync.RWMutex
	private map[privateKey]*PrivateGrant
	byItem  map[uuid.UUID]*PublicLink
	byLink  map[string]*PublicLink
}

// NewMemoryStore creates an empty grant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		private: make(map[privateKey]*PrivateGrant),
		byItem:  make(map[uuid.UUID]*PublicLink),
		byLink:  make(map[string]*PublicLink),
	}
}

func (s *MemoryStore) UpsertPrivateGrant(ctx context.Context, grant *PrivateGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := privateKey{itemID: grant.ItemID, sharedWith: grant.SharedWith}
	if existing, ok := s.private[key]; ok {
		grant.ID = existing.ID
		grant.CreatedAt = existing.CreatedAt
		grant.UpdatedAt = time.Now().UTC()
	} else if grant.ID == "" {
		grant.ID = ids.New()
	}
	cp := *grant
	s.private[key] = &cp
	return nil
}

func (s *MemoryStore) FindPrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) (*PrivateGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grant, ok := s.private[privateKey{itemID: itemID, sharedWith: sharedWith}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *grant
	return &cp, nil
}

func (s *MemoryStore) DeletePrivateGrant(ctx context.Context, itemID, sharedWith uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := privateKey{itemID: itemID, sharedWith: sharedWith}
	if _, ok := s.private[key]; !ok {
		return ErrNotFound
	}
	delete(s.private, key)
	return nil
}

func (s *MemoryStore) UpsertPublicLink(ctx context.Context, link *PublicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byItem[link.ItemID]; ok {
		link.ID = existing.ID
		link.CreatedAt = existing.CreatedAt
		link.UpdatedAt = time.Now().UTC()
	} else if link.ID == "" {
		link.ID = ids.New()
	}
	cp := *link
	s.byItem[link.ItemID] = &cp
	s.byLink[link.ID] = &cp
	return nil
}

func (s *MemoryStore) FindPublicLinkByItem(ctx context.Context, itemID uuid.UUID) (*PublicLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byItem[itemID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *MemoryStore) FindPublicLink(ctx context.Context, linkID string) (*PublicLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.byLink[linkID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *link
	return &cp, nil
}

func (s *MemoryStore) DeletePublicLink(ctx context.Context, itemID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.byItem[itemID]
	if !ok {
		return ErrNotFound
	}
	delete(s.byItem, itemID)
	delete(s.byLink, link.ID)
	return nil
}

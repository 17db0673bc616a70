package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/ids"
)

var _ TokenStore = (*MemoryStore)(nil)

// MemoryStore implements TokenStore with in-process concurrency safety.
// Used by devseed and tests; production wiring uses PGStore.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]*TokenRecord
	now  func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]*TokenRecord),
		now:  time.Now,
	}
}

// SetClock overrides the time source (test use).
func (s *MemoryStore) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

func (s *MemoryStore) Create(ctx context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	cp := *rec
	s.recs[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, kind Kind, tokenHash string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.Kind == kind && rec.TokenHash == tokenHash {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNoActiveToken
}

func (s *MemoryStore) Rotate(ctx context.Context, userID uuid.UUID, kind Kind, oldHash string, next *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	retired := 0
	for _, rec := range s.recs {
		if rec.UserID == userID && rec.Kind == kind && rec.TokenHash == oldHash && rec.Active(now) {
			rec.Used = true
			retired++
		}
	}
	if retired == 0 {
		return ErrNoActiveToken
	}

	if next.ID == "" {
		next.ID = ids.New()
	}
	cp := *next
	s.recs[next.ID] = &cp
	return nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return ErrNoActiveToken
	}
	rec.Used = true
	return nil
}

func (s *MemoryStore) MarkUsedByUser(ctx context.Context, userID uuid.UUID, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.recs {
		if rec.UserID == userID && rec.Kind == kind {
			rec.Used = true
		}
	}
	return nil
}

// ActiveCount reports how many unused, unexpired records exist for the
// user and kind. Test helper for the rotation invariant.
func (s *MemoryStore) ActiveCount(userID uuid.UUID, kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	count := 0
	for _, rec := range s.recs {
		if rec.UserID == userID && rec.Kind == kind && rec.Active(now) {
			count++
		}
	}
	return count
}

package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/items"
)

// Resolver computes the effective permission for a (item, user) pair.
// It never mutates state and is safe for concurrent use; the answer is
// a pure function of the current store contents.
//
// Precedence: ownership short-circuits everything. Otherwise the
// ancestor chain is walked from the item toward the root; at each node
// a private grant is checked before the public link, and the first
// match wins. A public link only records a candidate so that a private
// grant on the same node beats it; a candidate recorded on a closer
// node also beats any grant found farther up.
type Resolver struct {
	items  items.Store
	grants GrantStore
	now    func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given stores.
func NewResolver(itemStore items.Store, grants GrantStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{items: itemStore, grants: grants, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the effective permission userID holds on itemID. The
// zero userID resolves anonymously: only public links can grant access.
// A missing item surfaces as items.ErrNotFound for the caller to map;
// resolution itself assumes existence has been checked.
func (r *Resolver) Resolve(ctx context.Context, itemID, userID uuid.UUID) (Permission, error) {
	item, err := r.items.Find(ctx, itemID)
	if err != nil {
		return NoAccess, err
	}
	if userID != uuid.Nil && item.OwnerID == userID {
		return Owner, nil
	}

	var (
		candidate     Permission
		haveCandidate bool
	)
	node := item
	for depth := 0; ; depth++ {
		if depth >= items.MaxDepth {
			// The tree is validated acyclic on every move; reaching the
			// cap means that invariant broke.
			return NoAccess, items.ErrDepthExceeded
		}

		if userID != uuid.Nil {
			grant, err := r.grants.FindPrivateGrant(ctx, node.ID, userID)
			switch {
			case err == nil:
				if haveCandidate {
					return candidate, nil
				}
				return grant.Permission, nil
			case !errors.Is(err, ErrNotFound):
				return NoAccess, err
			}
		}

		if !haveCandidate {
			link, err := r.grants.FindPublicLinkByItem(ctx, node.ID)
			switch {
			case err == nil:
				if link.ActiveAt(r.now()) {
					candidate = link.Permission
					haveCandidate = true
				}
			case !errors.Is(err, ErrNotFound):
				return NoAccess, err
			}
		}

		if node.ParentID == nil {
			break
		}
		parent, err := r.items.Find(ctx, *node.ParentID)
		if err != nil {
			return NoAccess, err
		}
		node = parent
	}

	if haveCandidate {
		return candidate, nil
	}
	return NoAccess, nil
}

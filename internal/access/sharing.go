package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ShareStatus is the per-target outcome of a private-share batch.
type ShareStatus string

const (
	ShareStatusShared     ShareStatus = "SHARED"
	ShareStatusNotAllowed ShareStatus = "NOT_ALLOWED"
	ShareStatusNotFound   ShareStatus = "NOT_FOUND"
)

// ShareOutcome reports the result for one target user.
type ShareOutcome struct {
	UserID uuid.UUID   `json:"user_id"`
	Status ShareStatus `json:"status"`
}

// The four publish messages: which optional fields were supplied.
const (
	msgLinkPlain          = "Public link is ready."
	msgLinkPassword       = "Public link is ready. Password protection is enabled."
	msgLinkExpiry         = "Public link is ready. It expires at the configured time."
	msgLinkPasswordExpiry = "Public link is ready. Password protection is enabled and it expires at the configured time."
)

// UserChecker answers whether a target user exists. Satisfied by the
// users store.
type UserChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Sharing implements the grant-mutating operations. It consults the
// resolver before every mutation; the resolver itself never enforces
// grant-creation rules.
type Sharing struct {
	resolver *Resolver
	grants   GrantStore
	users    UserChecker
	now      func() time.Time
}

// SharingOption configures Sharing behavior.
type SharingOption func(*Sharing)

// WithSharingClock overrides the time source (useful for tests).
func WithSharingClock(fn func() time.Time) SharingOption {
	return func(s *Sharing) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSharing constructs the sharing service.
func NewSharing(resolver *Resolver, grants GrantStore, users UserChecker, opts ...SharingOption) *Sharing {
	s := &Sharing{resolver: resolver, grants: grants, users: users, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SharePrivately grants perm on the item to each target. The batch is
// never all-or-nothing: each target gets its own outcome. When the
// acting user lacks Editor, every target is reported NOT_ALLOWED
// rather than failing the request.
func (s *Sharing) SharePrivately(ctx context.Context, actor, itemID uuid.UUID, perm Permission, targets []uuid.UUID) ([]ShareOutcome, error) {
	if perm != Viewer && perm != Editor {
		return nil, ErrInvalidPermission
	}
	actorPerm, err := s.resolver.Resolve(ctx, itemID, actor)
	if err != nil {
		return nil, err
	}
	allowed := actorPerm.AtLeast(Editor)

	outcomes := make([]ShareOutcome, 0, len(targets))
	for _, target := range targets {
		if !allowed || target == uuid.Nil || target == actor {
			outcomes = append(outcomes, ShareOutcome{UserID: target, Status: ShareStatusNotAllowed})
			continue
		}
		exists, err := s.users.Exists(ctx, target)
		if err != nil {
			return nil, err
		}
		if !exists {
			outcomes = append(outcomes, ShareOutcome{UserID: target, Status: ShareStatusNotFound})
			continue
		}
		now := s.now().UTC()
		grant := &PrivateGrant{
			ItemID:     itemID,
			GrantedBy:  actor,
			SharedWith: target,
			Permission: perm,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.grants.UpsertPrivateGrant(ctx, grant); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, ShareOutcome{UserID: target, Status: ShareStatusShared})
	}
	return outcomes, nil
}

// RevokePrivateGrant removes the target's grant on the item.
func (s *Sharing) RevokePrivateGrant(ctx context.Context, actor, itemID, target uuid.UUID) error {
	actorPerm, err := s.resolver.Resolve(ctx, itemID, actor)
	if err != nil {
		return err
	}
	if !actorPerm.AtLeast(Editor) {
		return ErrForbidden
	}
	return s.grants.DeletePrivateGrant(ctx, itemID, target)
}

// PublishResult is returned by PublishLink.
type PublishResult struct {
	LinkID  string `json:"link_id"`
	Message string `json:"message"`
}

// PublishLink creates or updates the item's public link. The denial is
// a single generic error regardless of whether the actor has no access
// or viewer-only access, so the response leaks no grant details.
func (s *Sharing) PublishLink(ctx context.Context, actor, itemID uuid.UUID, perm Permission, password string, expiresAt *time.Time) (PublishResult, error) {
	if perm != Viewer && perm != Editor {
		return PublishResult{}, ErrInvalidPermission
	}
	actorPerm, err := s.resolver.Resolve(ctx, itemID, actor)
	if err != nil {
		return PublishResult{}, err
	}
	if actorPerm != Owner && actorPerm != Editor {
		return PublishResult{}, ErrForbidden
	}

	var passwordHash string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return PublishResult{}, err
		}
		passwordHash = string(hash)
	}

	now := s.now().UTC()
	link := &PublicLink{
		ItemID:       itemID,
		SharedBy:     actor,
		Permission:   perm,
		PasswordHash: passwordHash,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.grants.UpsertPublicLink(ctx, link); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{LinkID: link.ID, Message: publishMessage(password != "", expiresAt != nil)}, nil
}

// RevokePublicLink removes the item's public link.
func (s *Sharing) RevokePublicLink(ctx context.Context, actor, itemID uuid.UUID) error {
	actorPerm, err := s.resolver.Resolve(ctx, itemID, actor)
	if err != nil {
		return err
	}
	if actorPerm != Owner && actorPerm != Editor {
		return ErrForbidden
	}
	return s.grants.DeletePublicLink(ctx, itemID)
}

// ResolveLink resolves a public link id to its item and permission,
// verifying the optional password. Every failure collapses into
// ErrLinkUnavailable so callers cannot probe whether a link exists, is
// expired or is password-gated.
func (s *Sharing) ResolveLink(ctx context.Context, linkID, password string) (*PublicLink, error) {
	link, err := s.grants.FindPublicLink(ctx, linkID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrLinkUnavailable
		}
		return nil, err
	}
	if !link.ActiveAt(s.now()) {
		return nil, ErrLinkUnavailable
	}
	if link.PasswordProtected() {
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return nil, ErrLinkUnavailable
		}
	}
	return link, nil
}

func publishMessage(hasPassword, hasExpiry bool) string {
	switch {
	case hasPassword && hasExpiry:
		return msgLinkPasswordExpiry
	case hasPassword:
		return msgLinkPassword
	case hasExpiry:
		return msgLinkExpiry
	default:
		return msgLinkPlain
	}
}

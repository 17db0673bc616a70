package access

import (
	"time"

	"github.com/google/uuid"
)

// GrantKind tags the two grant variants consulted by the resolver. The
// variants share precedence handling but not shape, so they stay two
// structs under one tag rather than a subclass hierarchy.
type GrantKind string

const (
	GrantPrivate GrantKind = "private"
	GrantPublic  GrantKind = "public"
)

// PrivateGrant is an explicit, user-targeted grant on one item. At most
// one active grant exists per (item, shared-with) pair; writes upsert.
type PrivateGrant struct {
	ID         string
	ItemID     uuid.UUID
	GrantedBy  uuid.UUID
	SharedWith uuid.UUID
	Permission Permission
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PublicLink is an item-wide grant reachable by anyone holding the link
// id, optionally password- and time-gated. At most one active link
// exists per item.
type PublicLink struct {
	ID           string
	ItemID       uuid.UUID
	SharedBy     uuid.UUID
	Permission   Permission
	PasswordHash string
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActiveAt reports whether the link still grants access. An expired
// link behaves identically to an absent one.
func (l *PublicLink) ActiveAt(now time.Time) bool {
	return l.ExpiresAt == nil || now.Before(*l.ExpiresAt)
}

// PasswordProtected reports whether link access requires a password.
func (l *PublicLink) PasswordProtected() bool {
	return l.PasswordHash != ""
}

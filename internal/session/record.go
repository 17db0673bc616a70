package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the token records sharing one table. The kinds have
// the same storage shape but disjoint validation rules: refresh records
// rotate, the one-time kinds are consumed exactly once.
type Kind string

const (
	KindRefresh           Kind = "refresh"
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

// ParseKind validates a kind read from storage or input.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindRefresh, KindEmailVerification, KindPasswordReset:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("session: unknown token kind %q", raw)
}

// OneTime reports whether records of this kind are consumed on first use.
func (k Kind) OneTime() bool {
	return k == KindEmailVerification || k == KindPasswordReset
}

// TokenRecord is the persisted server-side half of a session. Only a
// hash of the token material is stored, never the material itself.
type TokenRecord struct {
	ID        string
	UserID    uuid.UUID
	Kind      Kind
	TokenHash string
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the record can still authenticate: unused and
// not past its expiry.
func (r *TokenRecord) Active(now time.Time) bool {
	return !r.Used && now.Before(r.ExpiresAt)
}

var (
	// ErrInvalidToken indicates a token that failed structural or
	// signature checks, or a rotation with no surviving refresh record.
	ErrInvalidToken = errors.New("session: invalid token")

	// ErrNoActiveToken is returned by stores when no unused, unexpired
	// record exists for the requested user and kind.
	ErrNoActiveToken = errors.New("session: no active token record")
)

package items

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes files from folders; only folders may have children.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// ParseKind validates a kind read from storage or input.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindFile, KindFolder:
		return Kind(raw), nil
	}
	return "", errors.New("items: unknown item kind")
}

// Item is a node in the ownership forest. ParentID is nil for roots.
type Item struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	ParentID  *uuid.UUID
	Name      string
	Kind      Kind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxDepth bounds every ancestor walk. The tree is shallow in practice;
// hitting the cap means a cycle slipped past move validation.
const MaxDepth = 64

var (
	ErrNotFound      = errors.New("items: not found")
	ErrInvalidInput  = errors.New("items: invalid input")
	ErrNotFolder     = errors.New("items: parent must be a folder")
	ErrCycle         = errors.New("items: move would create a cycle")
	ErrDepthExceeded = errors.New("items: ancestor chain exceeds maximum depth")
)

package access

import "errors"

// Permission is the effective access level for a (item, user) pair.
// The order is total: Owner > Editor > Viewer > NoAccess.
type Permission int

const (
	NoAccess Permission = iota
	Viewer
	Editor
	Owner
)

// String returns the wire representation.
func (p Permission) String() string {
	switch p {
	case Owner:
		return "OWNER"
	case Editor:
		return "EDITOR"
	case Viewer:
		return "VIEWER"
	default:
		return "NO_ACCESS"
	}
}

// AtLeast reports whether p grants everything other does.
func (p Permission) AtLeast(other Permission) bool {
	return p >= other
}

// ParsePermission accepts the wire representation.
func ParsePermission(raw string) (Permission, error) {
	switch raw {
	case "OWNER":
		return Owner, nil
	case "EDITOR":
		return Editor, nil
	case "VIEWER":
		return Viewer, nil
	case "NO_ACCESS":
		return NoAccess, nil
	}
	return NoAccess, ErrInvalidPermission
}

// ParseGrantPermission accepts only the levels a grant may carry.
// Ownership is never granted; it follows the item.
func ParseGrantPermission(raw string) (Permission, error) {
	perm, err := ParsePermission(raw)
	if err != nil {
		return NoAccess, err
	}
	if perm != Viewer && perm != Editor {
		return NoAccess, ErrInvalidPermission
	}
	return perm, nil
}

var (
	ErrNotFound          = errors.New("access: not found")
	ErrForbidden         = errors.New("access: permission denied")
	ErrInvalidPermission = errors.New("access: invalid permission")
	ErrLinkUnavailable   = errors.New("access: link unavailable")
)

package access

import (
	"errors"
	"testing"
)

func TestPermissionOrdering(t *testing.T) {
	if !Owner.AtLeast(Editor) || !Editor.AtLeast(Viewer) || !Viewer.AtLeast(NoAccess) {
		t.Fatal("permission ordering broken")
	}
	if NoAccess.AtLeast(Viewer) {
		t.Fatal("NO_ACCESS must not satisfy VIEWER")
	}
	if !Editor.AtLeast(Editor) {
		t.Fatal("AtLeast must be reflexive")
	}
}

func TestPermissionRoundTrip(t *testing.T) {
	for _, perm := range []Permission{NoAccess, Viewer, Editor, Owner} {
		parsed, err := ParsePermission(perm.String())
		if err != nil {
			t.Fatalf("parse %s: %v", perm, err)
		}
		if parsed != perm {
			t.Fatalf("round trip %s -> %s", perm, parsed)
		}
	}
	if _, err := ParsePermission("ADMIN"); !errors.Is(err, ErrInvalidPermission) {
		t.Fatalf("err = %v, want ErrInvalidPermission", err)
	}
}

func TestParseGrantPermission(t *testing.T) {
	for _, raw := range []string{"VIEWER", "EDITOR"} {
		if _, err := ParseGrantPermission(raw); err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
	}
	for _, raw := range []string{"OWNER", "NO_ACCESS", "viewer", ""} {
		if _, err := ParseGrantPermission(raw); !errors.Is(err, ErrInvalidPermission) {
			t.Fatalf("parse %s: err = %v, want ErrInvalidPermission", raw, err)
		}
	}
}

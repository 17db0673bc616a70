package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(store, testKey, opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store
}

func testIdentity() Identity {
	return Identity{UserID: uuid.New(), Email: "user@example.com"}
}

func TestNewServiceRequiresKey(t *testing.T) {
	if _, err := NewService(NewMemoryStore(), nil); err == nil {
		t.Fatal("expected error for missing signing key")
	}
}

func TestIssueValidateRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	identity := testIdentity()

	token, err := svc.Issue(identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !svc.Validate(token, identity) {
		t.Fatal("token must validate for its identity")
	}
	if svc.Validate(token, Identity{UserID: uuid.New(), Email: identity.Email}) {
		t.Fatal("token must not validate for a different user id")
	}
	if svc.Validate(token, Identity{UserID: identity.UserID, Email: "other@example.com"}) {
		t.Fatal("token must not validate for a different subject")
	}
}

func TestIssueClaimsShape(t *testing.T) {
	svc, _ := newTestService(t, WithKeyID("k1"))
	identity := testIdentity()

	token, err := svc.Issue(identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) { return testKey, nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if kid, _ := parsed.Header["kid"].(string); kid != "k1" {
		t.Fatalf("kid = %q, want k1", kid)
	}
	if claims.Subject != identity.Email {
		t.Fatalf("sub = %q, want %q", claims.Subject, identity.Email)
	}
	if claims.UserID != identity.UserID.String() {
		t.Fatalf("userid = %q, want %q", claims.UserID, identity.UserID)
	}
	if claims.Authorities == nil || len(claims.Authorities) != 0 {
		t.Fatalf("authorities = %v, want empty non-nil list", claims.Authorities)
	}
	if claims.ID == "" {
		t.Fatal("jti must be set")
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatal("iat and exp must be set")
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != time.Minute {
		t.Fatalf("exp-iat = %v, want 1m", got)
	}
}

func TestValidateFailsClosed(t *testing.T) {
	svc, _ := newTestService(t)
	identity := testIdentity()

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if svc.Validate(token, identity) {
			t.Fatalf("token %q must not validate", token)
		}
	}

	// Token signed with a different key.
	other, err := NewService(NewMemoryStore(), []byte("another-key-another-key-another!"))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	forged, err := other.Issue(identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if svc.Validate(forged, identity) {
		t.Fatal("token with a foreign signature must not validate")
	}
}

func TestIsExpiredClassification(t *testing.T) {
	svc, _ := newTestService(t)
	identity := testIdentity()

	fresh, err := svc.Issue(identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := svc.Issue(identity, -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}

	if got, err := svc.IsExpired(fresh); err != nil || got {
		t.Fatalf("fresh: got (%v, %v), want (false, nil)", got, err)
	}
	if got, err := svc.IsExpired(expired); err != nil || !got {
		t.Fatalf("expired: got (%v, %v), want (true, nil)", got, err)
	}
	if _, err := svc.IsExpired("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("malformed: err = %v, want ErrInvalidToken", err)
	}
}

func TestParseIdentityToleratesExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	identity := testIdentity()

	expired, err := svc.Issue(identity, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	parsed, err := svc.ParseIdentity(expired)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if parsed.UserID != identity.UserID || parsed.Email != identity.Email {
		t.Fatalf("parsed = %+v, want %+v", parsed, identity)
	}

	if _, err := svc.ParseIdentity("junk"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestStartCreatesRefreshRecord(t *testing.T) {
	svc, store := newTestService(t)
	identity := testIdentity()

	started, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.AccessToken == "" {
		t.Fatal("access token must not be empty")
	}
	if !svc.Validate(started.AccessToken, identity) {
		t.Fatal("started token must validate")
	}
	if got := store.ActiveCount(identity.UserID, KindRefresh); got != 1 {
		t.Fatalf("active refresh records = %d, want 1", got)
	}
}

func TestRotateHappyPath(t *testing.T) {
	svc, store := newTestService(t)
	identity := testIdentity()

	started, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	rotated, gotIdentity, err := svc.Rotate(context.Background(), started.AccessToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if gotIdentity.UserID != identity.UserID {
		t.Fatalf("identity = %+v, want %+v", gotIdentity, identity)
	}
	if !svc.Validate(rotated.AccessToken, identity) {
		t.Fatal("rotated token must validate")
	}
	if got := store.ActiveCount(identity.UserID, KindRefresh); got != 1 {
		t.Fatalf("active refresh records = %d, want exactly 1 after rotation", got)
	}
}

func TestRotateWithoutRecordFails(t *testing.T) {
	svc, _ := newTestService(t)
	identity := testIdentity()

	// A signature-valid token with no backing refresh record.
	token, err := svc.Issue(identity, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := svc.Rotate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRotateConcurrentExactlyOnce(t *testing.T) {
	svc, store := newTestService(t)
	identity := testIdentity()

	started, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = svc.Rotate(context.Background(), started.AccessToken)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("unexpected rotation error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d rotations succeeded, want exactly 1", succeeded)
	}
	if got := store.ActiveCount(identity.UserID, KindRefresh); got != 1 {
		t.Fatalf("active refresh records = %d, want 1", got)
	}
}

func TestEndRetiresOnlyOneSession(t *testing.T) {
	svc, store := newTestService(t)
	identity := testIdentity()

	first, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	second, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}

	if err := svc.End(context.Background(), first.AccessToken); err != nil {
		t.Fatalf("end: %v", err)
	}
	if got := store.ActiveCount(identity.UserID, KindRefresh); got != 1 {
		t.Fatalf("active refresh records = %d, want 1", got)
	}

	// The surviving session still rotates; the ended one does not.
	if _, _, err := svc.Rotate(context.Background(), first.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ended session rotate: err = %v, want ErrInvalidToken", err)
	}
	if _, _, err := svc.Rotate(context.Background(), second.AccessToken); err != nil {
		t.Fatalf("surviving session rotate: %v", err)
	}
}

func TestInvalidateAll(t *testing.T) {
	svc, store := newTestService(t)
	identity := testIdentity()

	started, err := svc.Start(context.Background(), identity)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.InvalidateAll(context.Background(), identity.UserID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if got := store.ActiveCount(identity.UserID, KindRefresh); got != 0 {
		t.Fatalf("active refresh records = %d, want 0", got)
	}
	if _, _, err := svc.Rotate(context.Background(), started.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken after invalidation", err)
	}
}

func TestOneTimeTokenConsumedOnce(t *testing.T) {
	svc, _ := newTestService(t)
	userID := uuid.New()

	secret, err := svc.IssueOneTime(context.Background(), userID, KindEmailVerification, time.Hour)
	if err != nil {
		t.Fatalf("issue one-time: %v", err)
	}

	got, err := svc.ConsumeOneTime(context.Background(), KindEmailVerification, secret)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got != userID {
		t.Fatalf("user = %s, want %s", got, userID)
	}

	if _, err := svc.ConsumeOneTime(context.Background(), KindEmailVerification, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second consume: err = %v, want ErrInvalidToken", err)
	}
}

func TestOneTimeTokenKindMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	userID := uuid.New()

	secret, err := svc.IssueOneTime(context.Background(), userID, KindEmailVerification, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.ConsumeOneTime(context.Background(), KindPasswordReset, secret); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for kind mismatch", err)
	}
	if _, err := svc.IssueOneTime(context.Background(), userID, KindRefresh, time.Hour); err == nil {
		t.Fatal("refresh kind must not be issuable as one-time")
	}
}

func TestKindParsing(t *testing.T) {
	for _, raw := range []string{"refresh", "email_verification", "password_reset"} {
		if _, err := ParseKind(raw); err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
	}
	if _, err := ParseKind("session"); err == nil {
		t.Fatal("unknown kind must not parse")
	}
	if KindRefresh.OneTime() {
		t.Fatal("refresh is not one-time")
	}
	if !KindEmailVerification.OneTime() || !KindPasswordReset.OneTime() {
		t.Fatal("verification and reset kinds are one-time")
	}
}

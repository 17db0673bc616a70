package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/access"
	"skyvault.org/internal/items"
	"skyvault.org/internal/session"
	"skyvault.org/internal/users"
)

type testEnv struct {
	api      *API
	handler  http.Handler
	users    *users.MemoryStore
	items    *items.MemoryStore
	grants   *access.MemoryStore
	tokens   *session.MemoryStore
	sessions *session.Service
	clock    *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	userStore := users.NewMemoryStore()
	itemStore := items.NewMemoryStore()
	grantStore := access.NewMemoryStore()
	tokenStore := session.NewMemoryStore()

	now := time.Now()
	clock := &now

	sessions, err := session.NewService(tokenStore, []byte("test-signing-key-test-signing-ke"),
		session.WithAccessTTL(time.Minute),
		session.WithClock(func() time.Time { return *clock }),
	)
	if err != nil {
		t.Fatalf("session service: %v", err)
	}

	itemService := items.NewService(itemStore)
	resolver := access.NewResolver(itemStore, grantStore)
	sharing := access.NewSharing(resolver, grantStore, userStore)

	api := New(Config{
		Version:      "test",
		Sessions:     sessions,
		Users:        userStore,
		Items:        itemService,
		Resolver:     resolver,
		Sharing:      sharing,
		CookieSecure: false,
	})

	return &testEnv{
		api:      api,
		handler:  api.Handler(),
		users:    userStore,
		items:    itemStore,
		grants:   grantStore,
		tokens:   tokenStore,
		sessions: sessions,
		clock:    clock,
	}
}

func (e *testEnv) addUser(t *testing.T, email string) *users.User {
	t.Helper()
	hash, err := users.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &users.User{Email: email, PasswordHash: hash, Status: users.StatusActive}
	if err := e.users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) login(t *testing.T, u *users.User) *http.Cookie {
	t.Helper()
	started, err := e.sessions.Start(context.Background(), session.Identity{UserID: u.ID, Email: u.Email})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return &http.Cookie{Name: sessionCookie, Value: started.AccessToken}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpointsArePublic(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/openapi.yaml"} {
		rec := e.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestGateRejectsMissingCookie(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "x", "kind": "file"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestGateRejectsGarbageCookie(t *testing.T) {
	e := newTestEnv(t)
	cookie := &http.Cookie{Name: sessionCookie, Value: "not-a-token"}
	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "x", "kind": "file"}, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d, want 401", rec.Code)
	}
}

func TestGateAcceptsValidCookie(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser(t, "alice@example.com")
	cookie := e.login(t, u)

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "docs", "kind": "folder"}, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["owner_id"] != u.ID.String() {
		t.Fatalf("owner_id = %v, want %s", body["owner_id"], u.ID)
	}
}

func TestGateRotatesExpiredToken(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser(t, "alice@example.com")

	// Log in two minutes in the past so the one-minute access token is
	// expired by the time the request arrives, while the refresh record
	// is still live.
	*e.clock = time.Now().Add(-2 * time.Minute)
	cookie := e.login(t, u)
	*e.clock = time.Now()

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "docs", "kind": "folder"}, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var replacement *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			replacement = c
		}
	}
	if replacement == nil || replacement.Value == "" || replacement.Value == cookie.Value {
		t.Fatal("expected a fresh session cookie after rotation")
	}
	if !replacement.HttpOnly {
		t.Fatal("session cookie must be http-only")
	}

	// The old token lost its refresh record to the rotation.
	rec = e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "more", "kind": "folder"}, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed old cookie: code = %d, want 401", rec.Code)
	}

	// The replacement works.
	rec = e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "more", "kind": "folder"},
		&http.Cookie{Name: sessionCookie, Value: replacement.Value})
	if rec.Code != http.StatusCreated {
		t.Fatalf("replacement cookie: code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/v1/auth/register",
		map[string]any{"email": "New@Example.com", "password": "longenough"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["email"] != "new@example.com" {
		t.Fatalf("email = %v, want normalized new@example.com", body["email"])
	}
	if body["status"] != users.StatusPending {
		t.Fatalf("status = %v, want pending", body["status"])
	}
	verification, _ := body["verification_token"].(string)
	if verification == "" {
		t.Fatal("verification token missing")
	}

	// Login before verification is refused.
	rec = e.do(t, http.MethodPost, "/v1/auth/login",
		map[string]any{"email": "new@example.com", "password": "longenough"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("pre-verify login: code = %d, want 401", rec.Code)
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/verify", map[string]any{"token": verification}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: code = %d: %s", rec.Code, rec.Body.String())
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/login",
		map[string]any{"email": "new@example.com", "password": "longenough"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: code = %d: %s", rec.Code, rec.Body.String())
	}
	var got *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			got = c
		}
	}
	if got == nil || got.Value == "" {
		t.Fatal("login must set the session cookie")
	}

	// A reused verification token is refused.
	rec = e.do(t, http.MethodPost, "/v1/auth/verify", map[string]any{"token": verification}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("verify replay: code = %d, want 401", rec.Code)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	e := newTestEnv(t)
	e.addUser(t, "alice@example.com")

	cases := []map[string]any{
		{"email": "alice@example.com", "password": "wrong"},
		{"email": "ghost@example.com", "password": "whatever"},
		{"email": "not-an-email", "password": "whatever"},
	}
	var bodies []string
	for _, c := range cases {
		rec := e.do(t, http.MethodPost, "/v1/auth/login", c, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("login %v: code = %d, want 401", c, rec.Code)
		}
		body := decodeBody(t, rec)
		bodies = append(bodies, fmt.Sprint(body["error"]))
	}
	for _, b := range bodies {
		if b != bodies[0] {
			t.Fatalf("login errors differ: %v", bodies)
		}
	}
}

func TestItemGetPermissionTaxonomy(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@example.com")
	stranger := e.addUser(t, "stranger@example.com")

	ownerCookie := e.login(t, owner)
	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "secret", "kind": "file"}, ownerCookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: code = %d", rec.Code)
	}
	itemID := decodeBody(t, rec)["id"].(string)

	// Owner sees the item with OWNER permission.
	rec = e.do(t, http.MethodGet, "/v1/items/"+itemID, nil, ownerCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner get: code = %d", rec.Code)
	}
	if perm := decodeBody(t, rec)["permission"]; perm != "OWNER" {
		t.Fatalf("permission = %v, want OWNER", perm)
	}

	// A stranger is denied, not told the item is missing.
	strangerCookie := e.login(t, stranger)
	rec = e.do(t, http.MethodGet, "/v1/items/"+itemID, nil, strangerCookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("stranger get: code = %d, want 403", rec.Code)
	}

	// A missing item is 404 for everyone.
	rec = e.do(t, http.MethodGet, "/v1/items/"+uuid.NewString(), nil, strangerCookie)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing get: code = %d, want 404", rec.Code)
	}
}

func TestShareEndpointBatchOutcomes(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@example.com")
	friend := e.addUser(t, "friend@example.com")
	cookie := e.login(t, owner)

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "shared", "kind": "folder"}, cookie)
	itemID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPost, "/v1/items/"+itemID+"/share", map[string]any{
		"permission": "EDITOR",
		"user_ids":   []string{friend.ID.String(), uuid.NewString(), "not-a-uuid"},
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("share: code = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Outcomes []access.ShareOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []access.ShareStatus{access.ShareStatusShared, access.ShareStatusNotFound, access.ShareStatusNotAllowed}
	if len(resp.Outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", resp.Outcomes)
	}
	for i, outcome := range resp.Outcomes {
		if outcome.Status != want[i] {
			t.Fatalf("outcome[%d] = %s, want %s", i, outcome.Status, want[i])
		}
	}

	// The friend now resolves EDITOR through the share.
	friendCookie := e.login(t, friend)
	rec = e.do(t, http.MethodGet, "/v1/items/"+itemID, nil, friendCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("friend get: code = %d", rec.Code)
	}
	if perm := decodeBody(t, rec)["permission"]; perm != "EDITOR" {
		t.Fatalf("permission = %v, want EDITOR", perm)
	}
}

func TestPublicLinkEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@example.com")
	cookie := e.login(t, owner)

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "pub", "kind": "file"}, cookie)
	itemID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPost, "/v1/items/"+itemID+"/link", map[string]any{
		"permission": "VIEWER",
		"password":   "sesame99",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: code = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	linkID, _ := body["link_id"].(string)
	if linkID == "" {
		t.Fatal("link_id missing")
	}
	if msg := body["message"]; msg != "Public link is ready. Password protection is enabled." {
		t.Fatalf("message = %v", msg)
	}

	// Anonymous access with the password succeeds.
	rec = e.do(t, http.MethodPost, "/v1/public/"+linkID, map[string]any{"password": "sesame99"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public view: code = %d: %s", rec.Code, rec.Body.String())
	}
	if perm := decodeBody(t, rec)["permission"]; perm != "VIEWER" {
		t.Fatalf("permission = %v, want VIEWER", perm)
	}

	// Wrong password and unknown links look identical.
	rec = e.do(t, http.MethodPost, "/v1/public/"+linkID, map[string]any{"password": "wrong"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong password: code = %d, want 404", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/v1/public/nosuchlink", map[string]any{"password": ""}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown link: code = %d, want 404", rec.Code)
	}

	// Revoking kills the link.
	rec = e.do(t, http.MethodDelete, "/v1/items/"+itemID+"/link", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: code = %d", rec.Code)
	}
	rec = e.do(t, http.MethodPost, "/v1/public/"+linkID, map[string]any{"password": "sesame99"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("after revoke: code = %d, want 404", rec.Code)
	}
}

func TestPublishLinkForbiddenForViewer(t *testing.T) {
	e := newTestEnv(t)
	owner := e.addUser(t, "owner@example.com")
	viewer := e.addUser(t, "viewer@example.com")
	ownerCookie := e.login(t, owner)

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "doc", "kind": "file"}, ownerCookie)
	itemID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPost, "/v1/items/"+itemID+"/share", map[string]any{
		"permission": "VIEWER",
		"user_ids":   []string{viewer.ID.String()},
	}, ownerCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("share: code = %d", rec.Code)
	}

	viewerCookie := e.login(t, viewer)
	rec = e.do(t, http.MethodPost, "/v1/items/"+itemID+"/link", map[string]any{"permission": "VIEWER"}, viewerCookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("viewer publish: code = %d, want 403", rec.Code)
	}
}

func TestLogoutEndsOnlyCurrentSession(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser(t, "alice@example.com")
	laptop := e.login(t, u)
	phone := e.login(t, u)

	rec := e.do(t, http.MethodPost, "/v1/auth/logout", nil, laptop)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := e.tokens.ActiveCount(u.ID, session.KindRefresh); got != 1 {
		t.Fatalf("active refresh records = %d, want 1 (phone survives)", got)
	}

	rec = e.do(t, http.MethodPost, "/v1/auth/logout-all", nil, phone)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout-all: code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := e.tokens.ActiveCount(u.ID, session.KindRefresh); got != 0 {
		t.Fatalf("active refresh records = %d, want 0", got)
	}
}

func TestChangePasswordInvalidatesSessions(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser(t, "alice@example.com")
	cookie := e.login(t, u)

	rec := e.do(t, http.MethodPost, "/v1/auth/password", map[string]any{
		"current_password": "correct horse battery",
		"new_password":     "even longer passphrase",
	}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: code = %d: %s", rec.Code, rec.Body.String())
	}
	if got := e.tokens.ActiveCount(u.ID, session.KindRefresh); got != 0 {
		t.Fatalf("active refresh records = %d, want 0", got)
	}
}

func TestMoveEndpointRejectsCycle(t *testing.T) {
	e := newTestEnv(t)
	u := e.addUser(t, "alice@example.com")
	cookie := e.login(t, u)

	rec := e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "root", "kind": "folder"}, cookie)
	rootID := decodeBody(t, rec)["id"].(string)
	rec = e.do(t, http.MethodPost, "/v1/items", map[string]any{"name": "child", "kind": "folder", "parent_id": rootID}, cookie)
	childID := decodeBody(t, rec)["id"].(string)

	rec = e.do(t, http.MethodPost, "/v1/items/"+rootID+"/move", map[string]any{"parent_id": childID}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cycle move: code = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitKicksIn(t *testing.T) {
	e := newTestEnv(t)
	limited := 0
	for i := 0; i < 40; i++ {
		rec := e.do(t, http.MethodGet, "/healthz", nil, nil)
		if rec.Code == http.StatusTooManyRequests {
			limited++
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("429 must carry Retry-After")
			}
		}
	}
	if limited == 0 {
		t.Fatal("expected at least one rate-limited response")
	}
}

package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer     = "skyvault"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14
)

// Identity is the authenticated subject carried by an access token.
type Identity struct {
	UserID      uuid.UUID
	Email       string
	Authorities []string
}

// Claims is the wire contract of the access token: subject is the
// user's email, userid the UUID string, authorities a list of authority
// strings (currently always empty).
type Claims struct {
	UserID      string   `json:"userid"`
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// Service issues, validates and rotates signed session tokens. The
// signing key is injected at construction and never mutated afterwards.
type Service struct {
	store TokenStore
	now   func() time.Time

	key        []byte
	keyID      string
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Option configures Service behavior.
type Option func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithKeyID sets the key identifier embedded into token headers so a
// future multi-key deployment can tell signatures apart.
func WithKeyID(kid string) Option {
	return func(s *Service) error {
		s.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh record lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service with the given store and signing key.
func NewService(store TokenStore, signingKey []byte, opts ...Option) (*Service, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("session: signing key is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		key:        signingKey,
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AccessTTL returns the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// Issue signs an access token for the identity. A non-positive ttl
// produces an already-expired token; Issue has no effect on the token
// store.
func (s *Service) Issue(identity Identity, ttl time.Duration) (string, error) {
	if identity.UserID == uuid.Nil {
		return "", errors.New("session: user id is required")
	}
	if strings.TrimSpace(identity.Email) == "" {
		return "", errors.New("session: subject is required")
	}
	authorities := identity.Authorities
	if authorities == nil {
		authorities = []string{}
	}

	now := s.now().UTC()
	claims := Claims{
		UserID:      identity.UserID.String(),
		Authorities: authorities,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Validate checks signature, subject match and non-expiry. It fails
// closed: any parse or signature error yields false.
func (s *Service) Validate(token string, identity Identity) bool {
	claims, err := s.parse(token)
	if err != nil {
		return false
	}
	if claims.Subject != identity.Email {
		return false
	}
	if claims.UserID != identity.UserID.String() {
		return false
	}
	return true
}

// IsExpired reports whether a signature-valid token is past its expiry.
// Structurally invalid tokens are an error, not merely expired.
func (s *Service) IsExpired(token string) (bool, error) {
	_, err := s.parse(token)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return true, nil
	default:
		return false, ErrInvalidToken
	}
}

// ParseIdentity decodes the identity from a token whose signature is
// valid, even when the token is expired. Rotation depends on claims
// staying readable past expiry.
func (s *Service) ParseIdentity(token string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, s.keyFunc)
	if err != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		return Identity{}, ErrInvalidToken
	}
	userID, parseErr := uuid.Parse(claims.UserID)
	if parseErr != nil || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{
		UserID:      userID,
		Email:       claims.Subject,
		Authorities: claims.Authorities,
	}, nil
}

// Started is the result of Start and Rotate: a fresh access token plus
// its expiry, mirrored into the session cookie by the HTTP layer.
type Started struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Start mints a token pair at login: a signed access token plus the
// refresh record tied to it. The record stores only a hash of the
// token, never the token itself.
func (s *Service) Start(ctx context.Context, identity Identity) (Started, error) {
	access, err := s.Issue(identity, s.accessTTL)
	if err != nil {
		return Started{}, err
	}
	if err := s.store.Create(ctx, s.refreshRecord(identity.UserID, access)); err != nil {
		return Started{}, err
	}
	return Started{AccessToken: access, ExpiresAt: s.now().Add(s.accessTTL)}, nil
}

// Rotate exchanges an expired access token for a fresh one. The old
// token's refresh record is retired and a replacement inserted
// atomically; when no active record matches the old token the rotation
// fails with ErrInvalidToken instead of creating an orphan, so a racing
// rotation of the same token loses cleanly.
func (s *Service) Rotate(ctx context.Context, oldToken string) (Started, Identity, error) {
	identity, err := s.ParseIdentity(oldToken)
	if err != nil {
		return Started{}, Identity{}, ErrInvalidToken
	}

	access, err := s.Issue(identity, s.accessTTL)
	if err != nil {
		return Started{}, Identity{}, err
	}
	next := s.refreshRecord(identity.UserID, access)
	if err := s.store.Rotate(ctx, identity.UserID, KindRefresh, hashSecret(oldToken), next); err != nil {
		if errors.Is(err, ErrNoActiveToken) {
			return Started{}, Identity{}, ErrInvalidToken
		}
		return Started{}, Identity{}, err
	}
	return Started{AccessToken: access, ExpiresAt: s.now().Add(s.accessTTL)}, identity, nil
}

// End retires the refresh record backing one access token. Used at
// logout so other devices keep their sessions.
func (s *Service) End(ctx context.Context, token string) error {
	if _, err := s.ParseIdentity(token); err != nil {
		return ErrInvalidToken
	}
	rec, err := s.store.FindByHash(ctx, KindRefresh, hashSecret(token))
	if err != nil {
		return ErrInvalidToken
	}
	return s.store.MarkUsed(ctx, rec.ID)
}

// InvalidateAll retires every unused refresh record for the user. Used
// on password change and logout-everywhere.
func (s *Service) InvalidateAll(ctx context.Context, userID uuid.UUID) error {
	return s.store.MarkUsedByUser(ctx, userID, KindRefresh)
}

// IssueOneTime creates a single-use token record (email verification,
// password reset) and returns the raw secret to deliver out of band.
func (s *Service) IssueOneTime(ctx context.Context, userID uuid.UUID, kind Kind, ttl time.Duration) (string, error) {
	if !kind.OneTime() {
		return "", errors.New("session: kind is not single-use")
	}
	if ttl <= 0 {
		return "", errors.New("session: ttl must be greater than zero")
	}
	secret, rec, err := s.newRecord(userID, kind, ttl)
	if err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return "", err
	}
	return secret, nil
}

// ConsumeOneTime resolves and burns a single-use token, returning the
// user it belongs to. A second consumption fails.
func (s *Service) ConsumeOneTime(ctx context.Context, kind Kind, secret string) (uuid.UUID, error) {
	if !kind.OneTime() {
		return uuid.Nil, errors.New("session: kind is not single-use")
	}
	rec, err := s.store.FindByHash(ctx, kind, hashSecret(secret))
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	if !rec.Active(s.now()) {
		return uuid.Nil, ErrInvalidToken
	}
	if err := s.store.MarkUsed(ctx, rec.ID); err != nil {
		return uuid.Nil, err
	}
	return rec.UserID, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, s.keyFunc)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != jwt.SigningMethodHS256 {
		return nil, ErrInvalidToken
	}
	if s.keyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != s.keyID {
			return nil, ErrInvalidToken
		}
	}
	return s.key, nil
}

// refreshRecord builds the server-side record backing an access token.
func (s *Service) refreshRecord(userID uuid.UUID, accessToken string) *TokenRecord {
	now := s.now().UTC()
	return &TokenRecord{
		UserID:    userID,
		Kind:      KindRefresh,
		TokenHash: hashSecret(accessToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
}

func (s *Service) newRecord(userID uuid.UUID, kind Kind, ttl time.Duration) (string, *TokenRecord, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := s.now().UTC()
	rec := &TokenRecord{
		UserID:    userID,
		Kind:      kind,
		TokenHash: hashSecret(secret),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return secret, rec, nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"skyvault.org/api/spec"
	"skyvault.org/internal/access"
	"skyvault.org/internal/items"
	"skyvault.org/internal/obs"
	"skyvault.org/internal/session"
	"skyvault.org/internal/users"
)

// ReadyProbe reports readiness (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Ready    ReadyProbe
	Version  string
	Sessions *session.Service
	Users    users.Store
	Items    *items.Service
	Resolver *access.Resolver
	Sharing  *access.Sharing

	// CookieSecure toggles the Secure attribute on the session cookie.
	CookieSecure bool
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions *session.Service
	users    users.Store
	items    *items.Service
	resolver *access.Resolver
	sharing  *access.Sharing

	cookieSecure bool
}

func New(cfg Config) *API {
	a := &API{
		mux:          http.NewServeMux(),
		readyProbe:   cfg.Ready,
		version:      cfg.Version,
		sessions:     cfg.Sessions,
		users:        cfg.Users,
		items:        cfg.Items,
		resolver:     cfg.Resolver,
		sharing:      cfg.Sharing,
		cookieSecure: cfg.CookieSecure,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/verify", a.handleVerify)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/logout-all", a.handleLogoutAll)
	a.mux.HandleFunc("/v1/auth/password", a.handleChangePassword)

	// items and sharing
	a.mux.HandleFunc("/v1/items", a.handleItems)
	a.mux.HandleFunc("/v1/items/", a.handleItemScoped)
	a.mux.HandleFunc("/v1/public/", a.handlePublicLink)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = LoggingJSON(h)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "skyvault-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "skyvault-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleAccessError maps domain errors onto the response taxonomy:
// 404 stays distinct from 403 so clients can tell "missing" from
// "denied", except for public-link failures which are collapsed.
func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, items.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "item not found")
	case errors.Is(err, access.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, access.ErrInvalidPermission):
		writeError(w, r, http.StatusBadRequest, "invalid permission")
	case errors.Is(err, access.ErrLinkUnavailable):
		writeError(w, r, http.StatusNotFound, "link unavailable")
	case errors.Is(err, items.ErrCycle), errors.Is(err, items.ErrNotFolder), errors.Is(err, items.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

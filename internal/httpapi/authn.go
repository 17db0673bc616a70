package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"skyvault.org/internal/obs"
	"skyvault.org/internal/session"
)

const sessionCookie = "skyvault_session"

// sessionTokenKey carries the token the gate accepted for this request.
// After a rotation it holds the replacement, not the retired original.
var sessionTokenKey = ctxKey{"session_token"}

func sessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

var publicPaths = map[string]bool{
	"/":                 true,
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/openapi.yaml":     true,
	"/v1/info":          true,
	"/v1/auth/register": true,
	"/v1/auth/verify":   true,
	"/v1/auth/login":    true,
}

func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	return strings.HasPrefix(path, "/v1/public/")
}

// withSession is the request gate. Public paths pass through without
// identity. Everything else needs the session cookie: a valid token
// attaches the caller's identity, an expired but otherwise well-formed
// token triggers rotation and a replacement cookie, anything else is
// rejected with 401.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		token := cookie.Value

		identity, err := a.sessions.ParseIdentity(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid session")
			return
		}

		if a.sessions.Validate(token, identity) {
			ctx := session.ContextWithIdentity(r.Context(), identity)
			ctx = context.WithValue(ctx, sessionTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		expired, err := a.sessions.IsExpired(token)
		if err != nil || !expired {
			writeError(w, r, http.StatusUnauthorized, "invalid session")
			return
		}

		started, rotated, err := a.sessions.Rotate(r.Context(), token)
		if err != nil {
			obs.ObserveRotation("rejected")
			if errors.Is(err, session.ErrInvalidToken) {
				a.clearSessionCookie(w)
				writeError(w, r, http.StatusUnauthorized, "session expired")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		obs.ObserveRotation("rotated")
		a.setSessionCookie(w, started)

		ctx := session.ContextWithIdentity(r.Context(), rotated)
		ctx = context.WithValue(ctx, sessionTokenKey, started.AccessToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) setSessionCookie(w http.ResponseWriter, started session.Started) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    started.AccessToken,
		Path:     "/",
		Expires:  started.ExpiresAt,
		MaxAge:   int(time.Until(started.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

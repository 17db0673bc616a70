package httpapi

import (
	"errors"
	"net/http"
	"time"

	"skyvault.org/internal/audit"
	"skyvault.org/internal/session"
	"skyvault.org/internal/users"
)

const (
	verificationTTL  = 24 * time.Hour
	minPasswordChars = 8
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email, err := users.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < minPasswordChars {
		writeError(w, r, http.StatusBadRequest, "password too short")
		return
	}
	hash, err := users.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	u := &users.User{
		Email:        email,
		PasswordHash: hash,
		Status:       users.StatusPending,
	}
	if err := a.users.Create(r.Context(), u); err != nil {
		if errors.Is(err, users.ErrAlreadyExists) {
			writeError(w, r, http.StatusConflict, "email already registered")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// No mailer is wired: the verification secret is returned to the
	// caller, which stands in for out-of-band delivery.
	verification, err := a.sessions.IssueOneTime(r.Context(), u.ID, session.KindEmailVerification, verificationTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	audit.LogEvent(r.Context(), "user_registered", map[string]any{
		"target_user_id": u.ID.String(),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":                 u.ID.String(),
		"email":              u.Email,
		"status":             u.Status,
		"verification_token": verification,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID, err := a.sessions.ConsumeOneTime(r.Context(), session.KindEmailVerification, req.Token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired verification token")
		return
	}
	if err := a.users.UpdateStatus(r.Context(), userID, users.StatusActive); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	audit.LogEvent(r.Context(), "user_verified", map[string]any{
		"target_user_id": userID.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": users.StatusActive,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email, err := users.NormalizeEmail(req.Email)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	u, err := a.users.FindByEmail(r.Context(), email)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if u.Status != users.StatusActive {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := users.VerifyPassword(u.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	identity := session.Identity{UserID: u.ID, Email: u.Email}
	started, err := a.sessions.Start(r.Context(), identity)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.setSessionCookie(w, started)

	audit.LogEvent(r.Context(), "user_login", map[string]any{
		"target_user_id": u.ID.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"expires_at": started.ExpiresAt.UTC().Format(time.RFC3339),
		"user": map[string]any{
			"id":    u.ID.String(),
			"email": u.Email,
		},
	})
}

// handleLogout ends the current session only; other devices keep
// theirs. Logout is idempotent: a record already retired is fine.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	token := sessionTokenFromContext(r.Context())
	if token == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.End(r.Context(), token); err != nil && !errors.Is(err, session.ErrInvalidToken) {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.clearSessionCookie(w)
	audit.LogEvent(r.Context(), "user_logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "logged_out",
	})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.sessions.InvalidateAll(r.Context(), userID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.clearSessionCookie(w)
	audit.LogEvent(r.Context(), "user_logout_all", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "logged_out_everywhere",
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleChangePassword updates the credential and retires every active
// refresh record so other devices must log in again.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < minPasswordChars {
		writeError(w, r, http.StatusBadRequest, "password too short")
		return
	}
	u, err := a.users.Find(r.Context(), userID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := users.VerifyPassword(u.PasswordHash, req.CurrentPassword); err != nil {
		writeError(w, r, http.StatusForbidden, "current password does not match")
		return
	}
	hash, err := users.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.users.UpdatePassword(r.Context(), userID, hash); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.sessions.InvalidateAll(r.Context(), userID); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	a.clearSessionCookie(w)
	audit.LogEvent(r.Context(), "password_changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "password_changed",
	})
}

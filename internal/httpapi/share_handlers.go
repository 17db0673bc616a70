package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/access"
	"skyvault.org/internal/audit"
	"skyvault.org/internal/session"
)

type shareRequest struct {
	Permission string   `json:"permission"`
	UserIDs    []string `json:"user_ids"`
}

type revokeShareRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) handleItemShare(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	switch r.Method {
	case http.MethodPost:
		a.handleSharePrivately(w, r, itemID)
	case http.MethodDelete:
		a.handleRevokeShare(w, r, itemID)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handleSharePrivately(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	userID, _ := session.UserIDFromContext(r.Context())
	var req shareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := access.ParseGrantPermission(req.Permission)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "permission must be VIEWER or EDITOR")
		return
	}
	if len(req.UserIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "user_ids is required")
		return
	}
	targets := make([]uuid.UUID, 0, len(req.UserIDs))
	for _, raw := range req.UserIDs {
		// Unparseable ids become the zero UUID so the batch still
		// yields a per-target outcome instead of failing outright.
		target, err := uuid.Parse(raw)
		if err != nil {
			target = uuid.Nil
		}
		targets = append(targets, target)
	}

	outcomes, err := a.sharing.SharePrivately(r.Context(), userID, itemID, perm, targets)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "item_shared", map[string]any{
		"item_id":    itemID.String(),
		"permission": perm.String(),
		"targets":    len(targets),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": outcomes,
	})
}

func (a *API) handleRevokeShare(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	userID, _ := session.UserIDFromContext(r.Context())
	var req revokeShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid user_id")
		return
	}
	if err := a.sharing.RevokePrivateGrant(r.Context(), userID, itemID, target); err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "share_revoked", map[string]any{
		"item_id":        itemID.String(),
		"target_user_id": target.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "revoked",
	})
}

type publishLinkRequest struct {
	Permission string  `json:"permission"`
	Password   string  `json:"password,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

func (a *API) handleItemLink(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	switch r.Method {
	case http.MethodPost:
		a.handlePublishLink(w, r, itemID)
	case http.MethodDelete:
		a.handleRevokeLink(w, r, itemID)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) handlePublishLink(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	userID, _ := session.UserIDFromContext(r.Context())
	var req publishLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	perm, err := access.ParseGrantPermission(req.Permission)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "permission must be VIEWER or EDITOR")
		return
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "expires_at must be RFC 3339")
			return
		}
		expiresAt = &t
	}

	result, err := a.sharing.PublishLink(r.Context(), userID, itemID, perm, req.Password, expiresAt)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "link_published", map[string]any{
		"item_id":    itemID.String(),
		"permission": perm.String(),
	})
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleRevokeLink(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	userID, _ := session.UserIDFromContext(r.Context())
	if err := a.sharing.RevokePublicLink(r.Context(), userID, itemID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "link_revoked", map[string]any{
		"item_id": itemID.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "revoked",
	})
}

type publicLinkRequest struct {
	Password string `json:"password"`
}

// handlePublicLink serves anonymous access through a public link. GET
// works for passwordless links; POST carries the password in the body
// so it never lands in access logs.
func (a *API) handlePublicLink(w http.ResponseWriter, r *http.Request) {
	linkID := strings.TrimPrefix(r.URL.Path, "/v1/public/")
	if linkID == "" || strings.Contains(linkID, "/") {
		writeError(w, r, http.StatusNotFound, "link unavailable")
		return
	}

	var password string
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req publicLinkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		password = req.Password
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		return
	}

	link, err := a.sharing.ResolveLink(r.Context(), linkID, password)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	item, err := a.items.Find(r.Context(), link.ItemID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "link unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":       toItemResponse(item),
		"permission": link.Permission.String(),
	})
}

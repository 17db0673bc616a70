package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"skyvault.org/internal/access"
	"skyvault.org/internal/audit"
	"skyvault.org/internal/items"
	"skyvault.org/internal/obs"
	"skyvault.org/internal/session"
)

type itemResponse struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func toItemResponse(it *items.Item) itemResponse {
	resp := itemResponse{
		ID:        it.ID.String(),
		OwnerID:   it.OwnerID.String(),
		Name:      it.Name,
		Kind:      string(it.Kind),
		CreatedAt: it.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: it.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if it.ParentID != nil {
		parent := it.ParentID.String()
		resp.ParentID = &parent
	}
	return resp
}

// resolve wraps the resolver call with the decision metric.
func (a *API) resolve(r *http.Request, itemID, userID uuid.UUID) (access.Permission, error) {
	perm, err := a.resolver.Resolve(r.Context(), itemID, userID)
	if err != nil {
		return perm, err
	}
	obs.ObserveDecision(perm.String())
	return perm, nil
}

type createItemRequest struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	ParentID *string `json:"parent_id"`
}

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, ok := session.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	kind, err := items.ParseKind(req.Kind)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "kind must be file or folder")
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil && *req.ParentID != "" {
		pid, err := uuid.Parse(*req.ParentID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid parent_id")
			return
		}
		perm, err := a.resolve(r, pid, userID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		if !perm.AtLeast(access.Editor) {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return
		}
		parentID = &pid
	}

	item, err := a.items.Create(r.Context(), userID, parentID, req.Name, kind)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "item_created", map[string]any{
		"item_id": item.ID.String(),
		"kind":    string(item.Kind),
	})
	writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// handleItemScoped dispatches /v1/items/{id} and its sub-resources.
func (a *API) handleItemScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/items/")
	idStr, sub, _ := strings.Cut(rest, "/")
	itemID, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "item not found")
		return
	}

	switch sub {
	case "":
		a.handleItemGet(w, r, itemID)
	case "children":
		a.handleItemChildren(w, r, itemID)
	case "move":
		a.handleItemMove(w, r, itemID)
	case "share":
		a.handleItemShare(w, r, itemID)
	case "link":
		a.handleItemLink(w, r, itemID)
	default:
		writeError(w, r, http.StatusNotFound, "not found")
	}
}

func (a *API) handleItemGet(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, _ := session.UserIDFromContext(r.Context())
	perm, err := a.resolve(r, itemID, userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if !perm.AtLeast(access.Viewer) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	item, err := a.items.Find(r.Context(), itemID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"item":       toItemResponse(item),
		"permission": perm.String(),
	})
}

func (a *API) handleItemChildren(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	userID, _ := session.UserIDFromContext(r.Context())
	perm, err := a.resolve(r, itemID, userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if !perm.AtLeast(access.Viewer) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}
	children, err := a.items.Children(r.Context(), itemID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	resp := make([]itemResponse, 0, len(children))
	for _, child := range children {
		resp = append(resp, toItemResponse(child))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": resp,
	})
}

type moveItemRequest struct {
	ParentID *string `json:"parent_id"`
}

func (a *API) handleItemMove(w http.ResponseWriter, r *http.Request, itemID uuid.UUID) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	userID, _ := session.UserIDFromContext(r.Context())
	var req moveItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	perm, err := a.resolve(r, itemID, userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if !perm.AtLeast(access.Editor) {
		writeError(w, r, http.StatusForbidden, "permission denied")
		return
	}

	var parentID *uuid.UUID
	if req.ParentID != nil && *req.ParentID != "" {
		pid, err := uuid.Parse(*req.ParentID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid parent_id")
			return
		}
		parentPerm, err := a.resolve(r, pid, userID)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		if !parentPerm.AtLeast(access.Editor) {
			writeError(w, r, http.StatusForbidden, "permission denied")
			return
		}
		parentID = &pid
	}

	if err := a.items.Move(r.Context(), itemID, parentID); err != nil {
		handleAccessError(w, r, err)
		return
	}
	audit.LogEvent(r.Context(), "item_moved", map[string]any{
		"item_id": itemID.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "moved",
	})
}

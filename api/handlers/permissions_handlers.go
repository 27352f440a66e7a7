package handlers

import (
	"net/http"
	"sort"
	"strings"

	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type PermissionsHandler struct {
	permissions store.PermissionsStore
	users       store.UsersStore
	authz       *authz.Service
	activity    store.ActivityStore
	logger      *utils.Logger
}

func NewPermissionsHandler(permissions store.PermissionsStore, users store.UsersStore, az *authz.Service, activity store.ActivityStore, logger *utils.Logger) *PermissionsHandler {
	return &PermissionsHandler{permissions: permissions, users: users, authz: az, activity: activity, logger: logger}
}

func (h *PermissionsHandler) ListKnobs(w http.ResponseWriter, r *http.Request) {
	knobs, err := h.permissions.ListKnobs(r.Context())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"knobs": knobs})
}

func (h *PermissionsHandler) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	target, ok := h.targetUser(w, r, caller)
	if !ok {
		return
	}
	overrides, err := h.permissions.ListUserOverrides(r.Context(), target.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	effective, err := h.authz.LoadEffectivePermissions(r.Context(), target)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":   target.ID,
		"role":      target.Role,
		"overrides": overrides,
		"effective": effective,
	})
}

type userPermissionsPayload struct {
	Overrides map[string]bool `json:"overrides"`
	Clear     []string        `json:"clear"`
}

func (h *PermissionsHandler) PutUserPermissions(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	target, ok := h.targetUser(w, r, caller)
	if !ok {
		return
	}
	var payload userPermissionsPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	keys := make([]string, 0, len(payload.Overrides)+len(payload.Clear))
	for key := range payload.Overrides {
		keys = append(keys, key)
	}
	keys = append(keys, payload.Clear...)
	if err := h.authz.ValidateKnobKeys(r.Context(), keys); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	// Deterministic apply order so repeated requests behave the same.
	ordered := make([]string, 0, len(payload.Overrides))
	for key := range payload.Overrides {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)
	for _, key := range ordered {
		if err := h.permissions.SetUserOverride(r.Context(), target.ID, key, payload.Overrides[key], caller.ID); err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	for _, key := range payload.Clear {
		if err := h.permissions.ClearUserOverride(r.Context(), target.ID, strings.TrimSpace(key)); err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	h.authz.LogActivity(r.Context(), &store.ActivityEntry{
		OrgID:       caller.OrgID,
		UserID:      caller.ID,
		ActionType:  "permissions.user_updated",
		EntityID:    &target.ID,
		Description: strings.Join(keys, ","),
		IP:          clientIP(r, nil),
		UserAgent:   r.UserAgent(),
	})
	effective, err := h.authz.LoadEffectivePermissions(r.Context(), target)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": target.ID, "effective": effective})
}

func (h *PermissionsHandler) targetUser(w http.ResponseWriter, r *http.Request, caller *store.User) (*store.User, bool) {
	if caller == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	target, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if target == nil || target.OrgID != caller.OrgID {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return target, true
}

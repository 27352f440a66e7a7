package handlers

import (
	"net/http"
	"strings"

	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type UsersHandler struct {
	users    store.UsersStore
	sessions store.SessionsStore
	authz    *authz.Service
	activity store.ActivityStore
	logger   *utils.Logger
}

func NewUsersHandler(users store.UsersStore, sessions store.SessionsStore, az *authz.Service, activity store.ActivityStore, logger *utils.Logger) *UsersHandler {
	return &UsersHandler{users: users, sessions: sessions, authz: az, activity: activity, logger: logger}
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	users, err := h.users.ListUsers(r.Context(), user.OrgID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type userUpdatePayload struct {
	Email    string `json:"email" validate:"omitempty,email"`
	FullName string `json:"full_name" validate:"max=200"`
	Role     string `json:"role" validate:"omitempty,oneof=owner admin manager staff"`
	Active   *bool  `json:"active"`
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller := auth.UserFromContext(r.Context())
	if caller == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	target, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if target == nil || target.OrgID != caller.OrgID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var payload userUpdatePayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	target.Email = strings.TrimSpace(payload.Email)
	target.FullName = strings.TrimSpace(payload.FullName)
	if payload.Role != "" {
		target.Role = payload.Role
	}
	if err := h.users.UpdateUser(r.Context(), target); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if payload.Active != nil && *payload.Active != target.Active {
		if err := h.users.SetActive(r.Context(), target.ID, *payload.Active); err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		target.Active = *payload.Active
		// A deactivated account must not keep live sessions.
		if !target.Active {
			_ = h.sessions.DeleteUserSessions(r.Context(), target.ID)
		}
	}
	h.authz.LogActivity(r.Context(), &store.ActivityEntry{
		OrgID:       caller.OrgID,
		UserID:      caller.ID,
		ActionType:  "user.updated",
		EntityID:    &target.ID,
		Description: target.Username,
		IP:          clientIP(r, nil),
		UserAgent:   r.UserAgent(),
	})
	writeJSON(w, http.StatusOK, target)
}

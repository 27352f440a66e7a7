package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/billing"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

const (
	SessionCookieName = "fathom_session"
	CSRFCookieName    = "fathom_csrf"
)

type AuthHandler struct {
	cfg            *config.AppConfig
	users          store.UsersStore
	sessions       store.SessionsStore
	sessionManager *auth.SessionManager
	authz          *authz.Service
	gate           *billing.Gate
	activity       store.ActivityStore
	logger         *utils.Logger
}

func NewAuthHandler(cfg *config.AppConfig, users store.UsersStore, sessions store.SessionsStore, sm *auth.SessionManager, az *authz.Service, gate *billing.Gate, activity store.ActivityStore, logger *utils.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, sessions: sessions, sessionManager: sm, authz: az, gate: gate, activity: activity, logger: logger}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var cred auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	cred.Username = strings.ToLower(strings.TrimSpace(cred.Username))
	if cred.Username == "" || cred.Password == "" {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	user, err := h.users.GetUserByUsername(r.Context(), cred.Username)
	if err != nil || user == nil || !user.Active {
		h.logAuth(r, 0, 0, "auth.login_failed", cred.Username+": user missing or inactive")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	ph, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	ok, err := auth.VerifyPassword(cred.Password, h.cfg.Pepper, ph)
	if err != nil || !ok {
		h.logAuth(r, user.OrgID, user.ID, "auth.login_failed", "invalid password")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	sess, err := h.sessionManager.Create(r.Context(), user, clientIP(r, h.cfg), r.UserAgent())
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("auth login session create failed for %s: %v", cred.Username, err)
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logAuth(r, user.OrgID, user.ID, "auth.login_success", "")
	h.setSessionCookies(w, r, sess)
	perms, err := h.authz.LoadEffectivePermissions(r.Context(), user)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	features, _ := h.gate.ForRequest().AllFeatures(r.Context(), user.OrgID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"permissions":   perms,
		"plan_features": features,
		"csrf_token":    sess.CSRFToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess != nil {
		_ = h.sessionManager.Delete(r.Context(), sess.ID)
		h.logAuth(r, sess.OrgID, sess.UserID, "auth.logout", "")
	}
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	user := auth.UserFromContext(r.Context())
	if sess == nil || user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	perms, err := h.authz.LoadEffectivePermissions(r.Context(), user)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	features, _ := h.gate.ForRequest().AllFeatures(r.Context(), user.OrgID)
	writeJSON(w, http.StatusOK, map[string]any{
		"user":          user,
		"permissions":   perms,
		"plan_features": features,
		"csrf_token":    sess.CSRFToken,
	})
}

func (h *AuthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	now := time.Now().UTC()
	_ = h.sessionManager.Refresh(r.Context(), sess.ID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "last_seen_at": now})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	user := auth.UserFromContext(r.Context())
	if sess == nil || user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload struct {
		Current  string `json:"current_password"`
		Password string `json:"password" validate:"required,min=8"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	phCurrent, _ := auth.ParsePasswordHash(user.PasswordHash, user.Salt)
	ok, _ := auth.VerifyPassword(payload.Current, h.cfg.Pepper, phCurrent)
	if !ok {
		http.Error(w, "current password is invalid", http.StatusBadRequest)
		return
	}
	ph, err := auth.HashPassword(payload.Password, h.cfg.Pepper)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if err := h.users.UpdatePassword(r.Context(), user.ID, ph.Hash, ph.Salt); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	// Old sessions die with the old password; the current one is rotated.
	_ = h.sessions.DeleteUserSessions(r.Context(), user.ID)
	fresh, err := h.sessionManager.Create(r.Context(), user, clientIP(r, h.cfg), r.UserAgent())
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.setSessionCookies(w, r, fresh)
	h.logAuth(r, user.OrgID, user.ID, "auth.password_changed", "")
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "csrf_token": fresh.CSRFToken})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, r *http.Request, sess *store.Session) {
	cookieSecure := isSecureRequest(r, h.cfg)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    sess.CSRFToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
}

func (h *AuthHandler) logAuth(r *http.Request, orgID, userID int64, action, description string) {
	h.authz.LogActivity(r.Context(), &store.ActivityEntry{
		OrgID:       orgID,
		UserID:      userID,
		ActionType:  action,
		Description: description,
		IP:          clientIP(r, h.cfg),
		UserAgent:   r.UserAgent(),
	})
}

func clientIP(r *http.Request, cfg *config.AppConfig) string {
	var trusted []string
	if cfg != nil {
		trusted = cfg.Security.TrustedProxies
	}
	return utils.ClientIP(r, trusted)
}

func isSecureRequest(r *http.Request, cfg *config.AppConfig) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if cfg == nil {
		return false
	}
	remoteIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	if remoteIP == "" {
		remoteIP = strings.TrimSpace(r.RemoteAddr)
	}
	if !utils.IsTrustedProxy(strings.TrimSpace(remoteIP), cfg.Security.TrustedProxies) {
		return false
	}
	xffProto := strings.ToLower(strings.TrimSpace(strings.SplitN(r.Header.Get("X-Forwarded-Proto"), ",", 2)[0]))
	return xffProto == "https"
}

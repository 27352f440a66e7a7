package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/automation"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type LeadsHandler struct {
	cfg        *config.AppConfig
	leads      store.LeadsStore
	users      store.UsersStore
	authz      *authz.Service
	dispatcher *automation.Dispatcher
	activity   store.ActivityStore
	logger     *utils.Logger
}

func NewLeadsHandler(cfg *config.AppConfig, leads store.LeadsStore, users store.UsersStore, az *authz.Service, dispatcher *automation.Dispatcher, activity store.ActivityStore, logger *utils.Logger) *LeadsHandler {
	return &LeadsHandler{cfg: cfg, leads: leads, users: users, authz: az, dispatcher: dispatcher, activity: activity, logger: logger}
}

func (h *LeadsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	predicate, args, err := h.authz.LeadsFilter(r.Context(), user)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	filter := store.LeadFilter{
		Search:        strings.TrimSpace(q.Get("search")),
		Stage:         strings.TrimSpace(q.Get("stage")),
		Status:        strings.TrimSpace(q.Get("status")),
		Predicate:     predicate,
		PredicateArgs: args,
		Limit:         queryInt(q.Get("limit"), 50, 200),
		Offset:        queryInt(q.Get("offset"), 0, 1<<30),
	}
	leads, err := h.leads.ListLeads(r.Context(), user.OrgID, filter)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leads": leads})
}

func (h *LeadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	lead, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

type leadPayload struct {
	Name    string         `json:"name" validate:"required,max=200"`
	Email   string         `json:"email" validate:"omitempty,email"`
	Phone   string         `json:"phone" validate:"max=40"`
	Company string         `json:"company" validate:"max=200"`
	Stage   string         `json:"stage" validate:"max=50"`
	Status  string         `json:"status" validate:"max=50"`
	Source  string         `json:"source" validate:"max=100"`
	Value   float64        `json:"value" validate:"gte=0"`
	Custom  map[string]any `json:"custom"`
}

func (h *LeadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload leadPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	lead := &store.Lead{
		OrgID:       user.OrgID,
		Name:        strings.TrimSpace(payload.Name),
		Email:       strings.TrimSpace(payload.Email),
		Phone:       strings.TrimSpace(payload.Phone),
		Company:     strings.TrimSpace(payload.Company),
		Stage:       payload.Stage,
		Status:      payload.Status,
		Source:      payload.Source,
		Value:       payload.Value,
		OwnerUserID: &user.ID,
		Custom:      payload.Custom,
	}
	id, err := h.leads.CreateLead(r.Context(), lead)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	created, err := h.leads.GetLead(r.Context(), user.OrgID, id)
	if err != nil || created == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logLead(r, user, created.ID, "lead.created", created.Name)
	h.fire(r, user.OrgID, automation.EventLeadCreated, automation.LeadContext(created, nil, nil))
	writeJSON(w, http.StatusCreated, created)
}

func (h *LeadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	prior, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	var payload leadPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	updated := *prior
	updated.Name = strings.TrimSpace(payload.Name)
	updated.Email = strings.TrimSpace(payload.Email)
	updated.Phone = strings.TrimSpace(payload.Phone)
	updated.Company = strings.TrimSpace(payload.Company)
	if payload.Stage != "" {
		updated.Stage = payload.Stage
	}
	if payload.Status != "" {
		updated.Status = payload.Status
	}
	updated.Source = payload.Source
	updated.Value = payload.Value
	if payload.Custom != nil {
		updated.Custom = payload.Custom
	}
	if err := h.leads.UpdateLead(r.Context(), &updated); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	changed := changedLeadFields(prior, &updated)
	h.logLead(r, user, updated.ID, "lead.updated", strings.Join(changed, ","))
	if len(changed) > 0 {
		ev := automation.LeadContext(&updated, prior, changed)
		h.fire(r, user.OrgID, automation.EventFieldChanged, ev)
		if prior.Stage != updated.Stage {
			h.fire(r, user.OrgID, automation.EventLeadStageChanged, ev)
		}
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *LeadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	lead, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	if err := h.leads.DeleteLead(r.Context(), user.OrgID, lead.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logLead(r, user, lead.ID, "lead.deleted", lead.Name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LeadsHandler) ChangeStage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	prior, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	var payload struct {
		Stage string `json:"stage" validate:"required,max=50"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.Stage == prior.Stage {
		writeJSON(w, http.StatusOK, prior)
		return
	}
	if err := h.leads.SetLeadStage(r.Context(), user.OrgID, prior.ID, payload.Stage); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	updated := *prior
	updated.Stage = payload.Stage
	h.logLead(r, user, prior.ID, "lead.stage_changed", prior.Stage+" -> "+payload.Stage)
	h.fire(r, user.OrgID, automation.EventLeadStageChanged, automation.LeadContext(&updated, prior, []string{"stage"}))
	writeJSON(w, http.StatusOK, updated)
}

func (h *LeadsHandler) Assign(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	prior, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	var payload struct {
		UserID *int64 `json:"user_id"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.UserID != nil {
		assignee, err := h.users.GetUser(r.Context(), *payload.UserID)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
		if assignee == nil || assignee.OrgID != user.OrgID || !assignee.Active {
			http.Error(w, "unknown assignee", http.StatusUnprocessableEntity)
			return
		}
	}
	if err := h.leads.AssignLead(r.Context(), user.OrgID, prior.ID, payload.UserID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	updated := *prior
	updated.AssignedTo = payload.UserID
	h.logLead(r, user, prior.ID, "lead.assigned", assignDescription(payload.UserID))
	h.fire(r, user.OrgID, automation.EventLeadAssigned, automation.LeadContext(&updated, prior, []string{"assigned_to"}))
	writeJSON(w, http.StatusOK, updated)
}

func (h *LeadsHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	lead, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	var payload struct {
		Body string `json:"body" validate:"required,max=10000"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	note := &store.LeadNote{LeadID: lead.ID, AuthorID: user.ID, Body: payload.Body}
	id, err := h.leads.AddNote(r.Context(), note)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	note.ID = id
	h.logLead(r, user, lead.ID, "lead.note_added", "")
	writeJSON(w, http.StatusCreated, note)
}

func (h *LeadsHandler) ListNotes(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	lead, ok := h.visibleLead(w, r, user)
	if !ok {
		return
	}
	notes, err := h.leads.ListNotes(r.Context(), lead.ID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

// visibleLead loads the lead from the path and applies the caller's
// visibility scope. Leads outside the scope read as not found.
func (h *LeadsHandler) visibleLead(w http.ResponseWriter, r *http.Request, user *store.User) (*store.Lead, bool) {
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	lead, err := h.leads.GetLead(r.Context(), user.OrgID, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if lead == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	eff, err := h.authz.LoadEffectivePermissions(r.Context(), user)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if !leadVisible(eff, user.ID, lead) {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return lead, true
}

// leadVisible applies the same tiering as the list filter so a lead the
// list hides can never be read by id.
func leadVisible(eff map[string]bool, userID int64, lead *store.Lead) bool {
	switch {
	case eff[authz.KnobViewAllAssignedLeads]:
		return true
	case eff[authz.KnobViewUnassignedLeads] && eff[authz.KnobViewOwnAssignedLeads]:
		return lead.AssignedTo == nil || *lead.AssignedTo == userID
	case eff[authz.KnobViewOwnAssignedLeads]:
		return lead.AssignedTo != nil && *lead.AssignedTo == userID
	default:
		return false
	}
}

// fire dispatches automation inline. A failed run never fails the request.
func (h *LeadsHandler) fire(r *http.Request, orgID int64, eventName string, ev *automation.EventContext) {
	if h.dispatcher == nil {
		return
	}
	if err := h.dispatcher.Trigger(r.Context(), orgID, eventName, ev); err != nil {
		if h.logger != nil {
			h.logger.Errorf("automation dispatch %s failed: %v", eventName, err)
		}
	}
}

func changedLeadFields(prior, updated *store.Lead) []string {
	changed := []string{}
	if prior.Name != updated.Name {
		changed = append(changed, "name")
	}
	if prior.Email != updated.Email {
		changed = append(changed, "email")
	}
	if prior.Phone != updated.Phone {
		changed = append(changed, "phone")
	}
	if prior.Company != updated.Company {
		changed = append(changed, "company")
	}
	if prior.Stage != updated.Stage {
		changed = append(changed, "stage")
	}
	if prior.Status != updated.Status {
		changed = append(changed, "status")
	}
	if prior.Source != updated.Source {
		changed = append(changed, "source")
	}
	if prior.Value != updated.Value {
		changed = append(changed, "value")
	}
	if customChanged(prior.Custom, updated.Custom) {
		changed = append(changed, automation.CustomDataField)
	}
	return changed
}

func customChanged(a, b map[string]any) bool {
	if len(a) != len(b) {
		return true
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return true
		}
		// Values come from decoded JSON and may be nested; compare by
		// rendering rather than ==, which panics on maps.
		if fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv) {
			return true
		}
	}
	return false
}

func assignDescription(userID *int64) string {
	if userID == nil {
		return "unassigned"
	}
	return "user " + strconv.FormatInt(*userID, 10)
}

func (h *LeadsHandler) logLead(r *http.Request, user *store.User, leadID int64, action, description string) {
	h.authz.LogActivity(r.Context(), &store.ActivityEntry{
		OrgID:       user.OrgID,
		UserID:      user.ID,
		ActionType:  action,
		EntityID:    &leadID,
		Description: description,
		IP:          clientIP(r, h.cfg),
		UserAgent:   r.UserAgent(),
	})
}

func queryInt(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/automation"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type WorkflowsHandler struct {
	automation store.AutomationStore
	authz      *authz.Service
	activity   store.ActivityStore
	logger     *utils.Logger
}

func NewWorkflowsHandler(automationStore store.AutomationStore, az *authz.Service, activity store.ActivityStore, logger *utils.Logger) *WorkflowsHandler {
	return &WorkflowsHandler{automation: automationStore, authz: az, activity: activity, logger: logger}
}

type workflowTriggerPayload struct {
	TriggerType string         `json:"trigger_type" validate:"required"`
	Condition   map[string]any `json:"condition"`
}

type workflowActionPayload struct {
	ActionType string         `json:"action_type" validate:"required"`
	Config     map[string]any `json:"config"`
}

type workflowPayload struct {
	Name     string                   `json:"name" validate:"required,max=200"`
	Scope    string                   `json:"scope" validate:"omitempty,oneof=organization user"`
	IsActive bool                     `json:"is_active"`
	IsShared bool                     `json:"is_shared"`
	Triggers []workflowTriggerPayload `json:"triggers" validate:"required,min=1,dive"`
	Actions  []workflowActionPayload  `json:"actions" validate:"required,min=1,dive"`
}

var knownTriggerTypes = map[string]bool{
	automation.EventLeadCreated:      true,
	automation.EventLeadStageChanged: true,
	automation.EventLeadAssigned:     true,
	automation.EventFieldChanged:     true,
}

var knownActionTypes = map[string]bool{
	automation.ActionWebhook:     true,
	automation.ActionAddNote:     true,
	automation.ActionAssignUser:  true,
	automation.ActionUpdateField: true,
	automation.ActionSendFlow:    true,
}

func (p *workflowPayload) toWorkflow(orgID, createdBy int64) (*store.Workflow, error) {
	wf := &store.Workflow{
		OrgID:     orgID,
		Name:      strings.TrimSpace(p.Name),
		Scope:     p.Scope,
		CreatedBy: createdBy,
		IsActive:  p.IsActive,
		IsShared:  p.IsShared,
	}
	for _, t := range p.Triggers {
		if !knownTriggerTypes[t.TriggerType] {
			return nil, fmt.Errorf("unknown trigger type %q", t.TriggerType)
		}
		raw, err := json.Marshal(t.Condition)
		if err != nil {
			return nil, err
		}
		if t.Condition == nil {
			raw = []byte("{}")
		}
		wf.Triggers = append(wf.Triggers, store.Trigger{TriggerType: t.TriggerType, ConditionJSON: string(raw)})
	}
	for i, a := range p.Actions {
		if !knownActionTypes[a.ActionType] {
			return nil, fmt.Errorf("unknown action type %q", a.ActionType)
		}
		raw, err := json.Marshal(a.Config)
		if err != nil {
			return nil, err
		}
		if a.Config == nil {
			raw = []byte("{}")
		}
		wf.Actions = append(wf.Actions, store.Action{ActionType: a.ActionType, ConfigJSON: string(raw), ExecutionOrder: i})
	}
	return wf, nil
}

func (h *WorkflowsHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	workflows, err := h.automation.ListWorkflows(r.Context(), user.OrgID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (h *WorkflowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	wf, ok := h.loadWorkflow(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowsHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var payload workflowPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	wf, err := payload.toWorkflow(user.OrgID, user.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if _, err := h.automation.CreateWorkflow(r.Context(), wf); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "workflow name already in use", http.StatusConflict)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logWorkflow(r, user, wf.ID, "workflow.created", wf.Name)
	writeJSON(w, http.StatusCreated, wf)
}

func (h *WorkflowsHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	existing, ok := h.loadWorkflow(w, r, user)
	if !ok {
		return
	}
	var payload workflowPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	wf, err := payload.toWorkflow(user.OrgID, existing.CreatedBy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	wf.ID = existing.ID
	if err := h.automation.UpdateWorkflow(r.Context(), wf); err != nil {
		if errors.Is(err, store.ErrConflict) {
			http.Error(w, "workflow name already in use", http.StatusConflict)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logWorkflow(r, user, wf.ID, "workflow.updated", wf.Name)
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	wf, ok := h.loadWorkflow(w, r, user)
	if !ok {
		return
	}
	if err := h.automation.DeleteWorkflow(r.Context(), user.OrgID, wf.ID); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.logWorkflow(r, user, wf.ID, "workflow.deleted", wf.Name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *WorkflowsHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	wf, ok := h.loadWorkflow(w, r, user)
	if !ok {
		return
	}
	var payload struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	wf.IsActive = payload.IsActive
	if err := h.automation.UpdateWorkflow(r.Context(), wf); err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	action := "workflow.deactivated"
	if payload.IsActive {
		action = "workflow.activated"
	}
	h.logWorkflow(r, user, wf.ID, action, wf.Name)
	writeJSON(w, http.StatusOK, wf)
}

func (h *WorkflowsHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	wf, ok := h.loadWorkflow(w, r, user)
	if !ok {
		return
	}
	limit := queryInt(r.URL.Query().Get("limit"), 50, 500)
	logs, err := h.automation.ListExecutionLogs(r.Context(), user.OrgID, wf.ID, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": logs})
}

func (h *WorkflowsHandler) loadWorkflow(w http.ResponseWriter, r *http.Request, user *store.User) (*store.Workflow, bool) {
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	wf, err := h.automation.GetWorkflow(r.Context(), user.OrgID, id)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return nil, false
	}
	if wf == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, false
	}
	return wf, true
}

func (h *WorkflowsHandler) logWorkflow(r *http.Request, user *store.User, wfID int64, action, description string) {
	h.authz.LogActivity(r.Context(), &store.ActivityEntry{
		OrgID:       user.OrgID,
		UserID:      user.ID,
		ActionType:  action,
		EntityID:    &wfID,
		Description: description,
		IP:          clientIP(r, nil),
		UserAgent:   r.UserAgent(),
	})
}

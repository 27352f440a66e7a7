package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"fathom-crm/core/store"
)

const (
	ActionWebhook     = "webhook"
	ActionAddNote     = "add_note"
	ActionAssignUser  = "assign_user"
	ActionUpdateField = "update_field"
	ActionSendFlow    = "send_flow"
)

func (e *Executor) runAction(ctx context.Context, wf *store.Workflow, action store.Action, ev *EventContext) error {
	switch action.ActionType {
	case ActionWebhook:
		return e.runWebhook(ctx, action.ConfigJSON, ev)
	case ActionAddNote:
		return e.runAddNote(ctx, action.ConfigJSON, ev)
	case ActionAssignUser:
		return e.runAssignUser(ctx, wf, action.ConfigJSON, ev)
	case ActionUpdateField:
		return e.runUpdateField(ctx, wf, action.ConfigJSON, ev)
	case ActionSendFlow:
		return e.runSendFlow(ctx, wf, action.ConfigJSON, ev)
	default:
		return fmt.Errorf("unknown action type %q", action.ActionType)
	}
}

type webhookConfig struct {
	URL     string            `json:"url"`
	Token   string            `json:"token,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (e *Executor) runWebhook(ctx context.Context, rawConfig string, ev *EventContext) error {
	var cfg webhookConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil || strings.TrimSpace(cfg.URL) == "" {
		return errors.New("webhook url missing")
	}
	body, err := json.Marshal(ev.Subject)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook status %d", resp.StatusCode)
}

type noteConfig struct {
	Content string `json:"content"`
}

var notePlaceholder = regexp.MustCompile(`\{\{lead\.([a-zA-Z0-9_]+)\}\}`)

func (e *Executor) runAddNote(ctx context.Context, rawConfig string, ev *EventContext) error {
	if ev.SubjectID <= 0 {
		return errors.New("add_note requires a subject id")
	}
	var cfg noteConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil || strings.TrimSpace(cfg.Content) == "" {
		return errors.New("note content missing")
	}
	body := notePlaceholder.ReplaceAllStringFunc(cfg.Content, func(token string) string {
		m := notePlaceholder.FindStringSubmatch(token)
		if len(m) != 2 {
			return token
		}
		return stringify(resolveField(ev.Subject, m[1]))
	})
	author := e.cfg.Automation.SystemActorID
	if owner, ok := ev.Subject["owner_user_id"].(int64); ok && owner > 0 {
		author = owner
	}
	_, err := e.leads.AddNote(ctx, &store.LeadNote{LeadID: ev.SubjectID, AuthorID: author, Body: body})
	return err
}

type assignConfig struct {
	UserID   int64  `json:"user_id,omitempty"`
	AssignTo string `json:"assign_to,omitempty"`
}

var assignableRoles = []string{"staff", "manager", "admin", "owner"}

func (e *Executor) runAssignUser(ctx context.Context, wf *store.Workflow, rawConfig string, ev *EventContext) error {
	if ev.SubjectID <= 0 {
		return errors.New("assign_user requires a subject id")
	}
	var cfg assignConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
		return errors.New("invalid assign_user config")
	}
	target := cfg.UserID
	if target <= 0 {
		if strings.ToLower(strings.TrimSpace(cfg.AssignTo)) != "round_robin" {
			return errors.New("assign_user needs a user id or round_robin")
		}
		candidates, err := e.users.ListActiveByRoles(ctx, wf.OrgID, assignableRoles)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			e.logger.Infof("workflow %d assign_user: no eligible users", wf.ID)
			return nil
		}
		target = candidates[e.pick(len(candidates))].ID
	}
	if err := e.leads.AssignLead(ctx, wf.OrgID, ev.SubjectID, &target); err != nil {
		return err
	}
	if e.activity != nil {
		_ = e.activity.Log(ctx, &store.ActivityEntry{
			OrgID:       wf.OrgID,
			UserID:      e.cfg.Automation.SystemActorID,
			ActionType:  "automation.lead_assigned",
			EntityID:    &ev.SubjectID,
			Description: fmt.Sprintf("workflow %q assigned lead to user %d", wf.Name, target),
		})
	}
	return nil
}

type updateFieldConfig struct {
	FieldName string `json:"field_name"`
	Value     any    `json:"value"`
}

func (e *Executor) runUpdateField(ctx context.Context, wf *store.Workflow, rawConfig string, ev *EventContext) error {
	if ev.SubjectID <= 0 {
		return errors.New("update_field requires a subject id")
	}
	var cfg updateFieldConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
		return errors.New("invalid update_field config")
	}
	if !store.LeadColumnWritable(cfg.FieldName) {
		return fmt.Errorf("field %q is not writable", cfg.FieldName)
	}
	return e.leads.UpdateLeadColumn(ctx, wf.OrgID, ev.SubjectID, cfg.FieldName, cfg.Value)
}

type flowConfig struct {
	FlowID    string         `json:"flow_id,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

func (e *Executor) runSendFlow(ctx context.Context, wf *store.Workflow, rawConfig string, ev *EventContext) error {
	settings, err := e.settings.GetMessagingSettings(ctx, wf.OrgID)
	if err != nil {
		return err
	}
	if settings == nil || !settings.IsActive {
		e.logger.Infof("workflow %d send_flow: messaging inactive for org %d", wf.ID, wf.OrgID)
		return nil
	}
	var cfg flowConfig
	_ = json.Unmarshal([]byte(rawConfig), &cfg)
	flowID := strings.TrimSpace(cfg.FlowID)
	if flowID == "" {
		flowID = settings.FlowID
	}
	phone := NormalizePhone(stringify(ev.Subject["phone"]))
	if phone == "" {
		return errors.New("send_flow: lead has no phone")
	}
	first, last := SplitName(stringify(ev.Subject["name"]))
	return e.flow.SendFlow(ctx, settings, FlowMessage{
		FlowID:    flowID,
		Phone:     phone,
		FirstName: first,
		LastName:  last,
		Variables: cfg.Variables,
	})
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Workflow struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"org_id"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope"`
	CreatedBy int64     `json:"created_by"`
	IsActive  bool      `json:"is_active"`
	IsShared  bool      `json:"is_shared"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Triggers  []Trigger `json:"triggers,omitempty"`
	Actions   []Action  `json:"actions,omitempty"`
}

type Trigger struct {
	ID            int64  `json:"id"`
	WorkflowID    int64  `json:"workflow_id"`
	TriggerType   string `json:"trigger_type"`
	ConditionJSON string `json:"condition_json"`
}

type Action struct {
	ID             int64  `json:"id"`
	WorkflowID     int64  `json:"workflow_id"`
	ActionType     string `json:"action_type"`
	ConfigJSON     string `json:"config_json"`
	ExecutionOrder int    `json:"execution_order"`
}

type ExecutionLog struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	WorkflowID  int64     `json:"workflow_id"`
	OrgID       int64     `json:"org_id"`
	SubjectID   int64     `json:"subject_id"`
	TriggerType string    `json:"trigger_type"`
	Status      string    `json:"status"`
	StepsJSON   string    `json:"steps_json"`
	CreatedAt   time.Time `json:"created_at"`
}

type AutomationStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) (int64, error)
	UpdateWorkflow(ctx context.Context, wf *Workflow) error
	DeleteWorkflow(ctx context.Context, orgID, id int64) error
	GetWorkflow(ctx context.Context, orgID, id int64) (*Workflow, error)
	ListWorkflows(ctx context.Context, orgID int64) ([]Workflow, error)

	// ListTriggersByType returns the triggers of active workflows in the org
	// matching the trigger type.
	ListTriggersByType(ctx context.Context, orgID int64, triggerType string) ([]Trigger, error)
	ListActions(ctx context.Context, workflowID int64) ([]Action, error)

	InsertExecutionLog(ctx context.Context, log *ExecutionLog) (int64, error)
	ListExecutionLogs(ctx context.Context, orgID, workflowID int64, limit int) ([]ExecutionLog, error)
	DeleteExecutionLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type automationStore struct {
	db *sql.DB
}

func NewAutomationStore(db *sql.DB) AutomationStore {
	return &automationStore{db: db}
}

func (s *automationStore) CreateWorkflow(ctx context.Context, wf *Workflow) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if strings.TrimSpace(wf.Scope) == "" {
		wf.Scope = "organization"
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO automation_workflows(org_id, name, scope, created_by, is_active, is_shared, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		wf.OrgID, strings.TrimSpace(wf.Name), wf.Scope, wf.CreatedBy, boolToInt(wf.IsActive), boolToInt(wf.IsShared), now, now)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return 0, ErrConflict
		}
		return 0, err
	}
	wfID, _ := res.LastInsertId()
	if err := s.replaceTriggersTx(ctx, tx, wfID, wf.Triggers); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := s.replaceActionsTx(ctx, tx, wfID, wf.Actions); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	wf.ID = wfID
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return wfID, nil
}

func (s *automationStore) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE automation_workflows SET name=?, scope=?, is_active=?, is_shared=?, updated_at=? WHERE id=? AND org_id=?`,
		strings.TrimSpace(wf.Name), wf.Scope, boolToInt(wf.IsActive), boolToInt(wf.IsShared), now, wf.ID, wf.OrgID)
	if err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		tx.Rollback()
		return ErrConflict
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_triggers WHERE workflow_id=?`, wf.ID); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM automation_actions WHERE workflow_id=?`, wf.ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.replaceTriggersTx(ctx, tx, wf.ID, wf.Triggers); err != nil {
		tx.Rollback()
		return err
	}
	if err := s.replaceActionsTx(ctx, tx, wf.ID, wf.Actions); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	wf.UpdatedAt = now
	return nil
}

func (s *automationStore) replaceTriggersTx(ctx context.Context, tx *sql.Tx, wfID int64, triggers []Trigger) error {
	for i := range triggers {
		t := &triggers[i]
		if strings.TrimSpace(t.ConditionJSON) == "" {
			t.ConditionJSON = "{}"
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO automation_triggers(workflow_id, trigger_type, condition_json) VALUES(?,?,?)`,
			wfID, strings.TrimSpace(t.TriggerType), t.ConditionJSON)
		if err != nil {
			return err
		}
		t.ID, _ = res.LastInsertId()
		t.WorkflowID = wfID
	}
	return nil
}

func (s *automationStore) replaceActionsTx(ctx context.Context, tx *sql.Tx, wfID int64, actions []Action) error {
	for i := range actions {
		a := &actions[i]
		if strings.TrimSpace(a.ConfigJSON) == "" {
			a.ConfigJSON = "{}"
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO automation_actions(workflow_id, action_type, config_json, execution_order) VALUES(?,?,?,?)`,
			wfID, strings.TrimSpace(a.ActionType), a.ConfigJSON, a.ExecutionOrder)
		if err != nil {
			return err
		}
		a.ID, _ = res.LastInsertId()
		a.WorkflowID = wfID
	}
	return nil
}

func (s *automationStore) DeleteWorkflow(ctx context.Context, orgID, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automation_workflows WHERE id=? AND org_id=?`, id, orgID)
	return err
}

func (s *automationStore) GetWorkflow(ctx context.Context, orgID, id int64) (*Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, scope, created_by, is_active, is_shared, created_at, updated_at
		FROM automation_workflows WHERE id=? AND org_id=?`, id, orgID)
	var wf Workflow
	var active, shared int
	if err := row.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Scope, &wf.CreatedBy, &active, &shared, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	wf.IsActive = active == 1
	wf.IsShared = shared == 1
	triggers, err := s.listTriggers(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Triggers = triggers
	actions, err := s.ListActions(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Actions = actions
	return &wf, nil
}

func (s *automationStore) ListWorkflows(ctx context.Context, orgID int64) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, name, scope, created_by, is_active, is_shared, created_at, updated_at
		FROM automation_workflows WHERE org_id=? ORDER BY name ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Workflow
	for rows.Next() {
		var wf Workflow
		var active, shared int
		if err := rows.Scan(&wf.ID, &wf.OrgID, &wf.Name, &wf.Scope, &wf.CreatedBy, &active, &shared, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.IsActive = active == 1
		wf.IsShared = shared == 1
		res = append(res, wf)
	}
	return res, rows.Err()
}

func (s *automationStore) ListTriggersByType(ctx context.Context, orgID int64, triggerType string) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.workflow_id, t.trigger_type, t.condition_json
		FROM automation_triggers t
		JOIN automation_workflows w ON w.id = t.workflow_id
		WHERE w.org_id=? AND w.is_active=1 AND t.trigger_type=?
		ORDER BY t.workflow_id ASC, t.id ASC`,
		orgID, strings.TrimSpace(triggerType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.TriggerType, &t.ConditionJSON); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *automationStore) listTriggers(ctx context.Context, workflowID int64) ([]Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, trigger_type, condition_json FROM automation_triggers WHERE workflow_id=? ORDER BY id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Trigger
	for rows.Next() {
		var t Trigger
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.TriggerType, &t.ConditionJSON); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (s *automationStore) ListActions(ctx context.Context, workflowID int64) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, action_type, config_json, execution_order
		FROM automation_actions WHERE workflow_id=? ORDER BY execution_order ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Action
	for rows.Next() {
		var a Action
		if err := rows.Scan(&a.ID, &a.WorkflowID, &a.ActionType, &a.ConfigJSON, &a.ExecutionOrder); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *automationStore) InsertExecutionLog(ctx context.Context, log *ExecutionLog) (int64, error) {
	now := time.Now().UTC()
	if strings.TrimSpace(log.StepsJSON) == "" {
		log.StepsJSON = "[]"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_execution_logs(run_id, workflow_id, org_id, subject_id, trigger_type, status, steps_json, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		log.RunID, log.WorkflowID, log.OrgID, log.SubjectID, log.TriggerType, log.Status, log.StepsJSON, now)
	if err != nil {
		return 0, err
	}
	id, _ := res.LastInsertId()
	log.ID = id
	log.CreatedAt = now
	return id, nil
}

func (s *automationStore) ListExecutionLogs(ctx context.Context, orgID, workflowID int64, limit int) ([]ExecutionLog, error) {
	query := `
		SELECT id, run_id, workflow_id, org_id, subject_id, trigger_type, status, steps_json, created_at
		FROM automation_execution_logs WHERE org_id=? AND workflow_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, orgID, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ExecutionLog
	for rows.Next() {
		var l ExecutionLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.WorkflowID, &l.OrgID, &l.SubjectID, &l.TriggerType, &l.Status, &l.StepsJSON, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (s *automationStore) DeleteExecutionLogsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM automation_execution_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

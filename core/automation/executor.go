package automation

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"

	"github.com/gofrs/uuid/v5"

	"fathom-crm/config"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

const (
	StepOK     = "ok"
	StepFailed = "failed"

	RunSuccess = "success"
	RunPartial = "partial"
)

type StepResult struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Executor runs a workflow's actions in ascending execution order. Each
// action failure is recorded and execution continues, a workflow run is
// never transactional.
type Executor struct {
	automation store.AutomationStore
	leads      store.LeadsStore
	users      store.UsersStore
	settings   store.SettingsStore
	activity   store.ActivityStore
	flow       FlowSender
	cfg        *config.AppConfig
	httpClient *http.Client
	logger     *utils.Logger
	pick       func(n int) int
}

func NewExecutor(
	automation store.AutomationStore,
	leads store.LeadsStore,
	users store.UsersStore,
	settings store.SettingsStore,
	activity store.ActivityStore,
	flow FlowSender,
	cfg *config.AppConfig,
	logger *utils.Logger,
) *Executor {
	return &Executor{
		automation: automation,
		leads:      leads,
		users:      users,
		settings:   settings,
		activity:   activity,
		flow:       flow,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.WebhookTimeout()},
		logger:     logger,
		pick:       rand.Intn,
	}
}

func (e *Executor) ExecuteWorkflow(ctx context.Context, wf *store.Workflow, eventName string, ev *EventContext) (*store.ExecutionLog, error) {
	actions := wf.Actions
	if actions == nil {
		var err error
		actions, err = e.automation.ListActions(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
	}
	status := RunSuccess
	steps := make([]StepResult, 0, len(actions))
	for _, action := range actions {
		step := StepResult{Type: action.ActionType, Status: StepOK}
		if err := e.runAction(ctx, wf, action, ev); err != nil {
			step.Status = StepFailed
			step.Error = err.Error()
			status = RunPartial
			e.logger.Warnf("workflow %d action %s failed: %v", wf.ID, action.ActionType, err)
		}
		steps = append(steps, step)
	}
	stepsRaw, _ := json.Marshal(steps)
	log := &store.ExecutionLog{
		RunID:       uuid.Must(uuid.NewV4()).String(),
		WorkflowID:  wf.ID,
		OrgID:       wf.OrgID,
		SubjectID:   ev.SubjectID,
		TriggerType: eventName,
		Status:      status,
		StepsJSON:   string(stepsRaw),
	}
	if _, err := e.automation.InsertExecutionLog(ctx, log); err != nil {
		return log, err
	}
	return log, nil
}

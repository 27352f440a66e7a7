package automation

import (
	"context"

	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

// Dispatcher routes domain events to matching workflows. It runs inline in
// the request that raised the event; the domain mutation has already
// committed, so workflow failures are observability-only and never reach
// the end user.
type Dispatcher struct {
	automation store.AutomationStore
	executor   *Executor
	logger     *utils.Logger
}

func NewDispatcher(automation store.AutomationStore, executor *Executor, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{automation: automation, executor: executor, logger: logger}
}

// Trigger evaluates every active workflow of the org subscribed to the
// event and executes the ones whose conditions hold. A trigger-lookup
// failure aborts the whole call; a single workflow's condition error only
// skips that workflow.
func (d *Dispatcher) Trigger(ctx context.Context, orgID int64, eventName string, ev *EventContext) error {
	triggers, err := d.automation.ListTriggersByType(ctx, orgID, eventName)
	if err != nil {
		return err
	}
	for _, trig := range triggers {
		cond := ParseCondition(trig.ConditionJSON)
		ok, err := EvaluateCondition(cond, ev)
		if err != nil {
			d.logger.Warnf("workflow %d condition error on %s: %v", trig.WorkflowID, eventName, err)
			continue
		}
		if !ok {
			continue
		}
		wf, err := d.automation.GetWorkflow(ctx, orgID, trig.WorkflowID)
		if err != nil {
			return err
		}
		if wf == nil {
			d.logger.Warnf("workflow %d missing for trigger %d", trig.WorkflowID, trig.ID)
			continue
		}
		if _, err := d.executor.ExecuteWorkflow(ctx, wf, eventName, ev); err != nil {
			d.logger.Errorf("workflow %d execution log failed: %v", wf.ID, err)
		}
	}
	return nil
}

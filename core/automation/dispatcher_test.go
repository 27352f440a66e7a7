package automation

import (
	"context"
	"testing"

	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

func (env *testEnv) newDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewDispatcher(env.automation, env.newExecutor(t, &recordingFlowSender{}), utils.NewTestLogger())
}

func (env *testEnv) createTriggeredWorkflow(t *testing.T, orgID int64, name, triggerType, conditionJSON string, active bool) *store.Workflow {
	t.Helper()
	wf := &store.Workflow{
		OrgID:    orgID,
		Name:     name,
		IsActive: active,
		Triggers: []store.Trigger{{TriggerType: triggerType, ConditionJSON: conditionJSON}},
		Actions:  []store.Action{{ActionType: ActionAddNote, ConfigJSON: `{"content":"fired"}`, ExecutionOrder: 0}},
	}
	if _, err := env.automation.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("create workflow %s: %v", name, err)
	}
	return wf
}

func TestDispatcherRunsMatchingWorkflow(t *testing.T) {
	env := setupAutomationTestDB(t)
	orgID, lead := env.seedOrgLead(t)
	ctx := context.Background()

	wf := env.createTriggeredWorkflow(t, orgID, "On won", EventLeadStageChanged, `{"to_stage":"won"}`, true)
	env.createTriggeredWorkflow(t, orgID, "On lost", EventLeadStageChanged, `{"to_stage":"lost"}`, true)
	env.createTriggeredWorkflow(t, orgID, "Disabled", EventLeadStageChanged, `{"to_stage":"won"}`, false)
	env.createTriggeredWorkflow(t, orgID, "Other event", EventLeadCreated, `{}`, true)

	d := env.newDispatcher(t)
	if err := d.Trigger(ctx, orgID, EventLeadStageChanged, LeadContext(lead, nil, []string{"stage"})); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	notes, _ := env.leads.ListNotes(ctx, lead.ID)
	if len(notes) != 1 {
		t.Fatalf("expected exactly one workflow to fire, got %d notes", len(notes))
	}
	logs, err := env.automation.ListExecutionLogs(ctx, orgID, wf.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one execution log for matching workflow, got %d (%v)", len(logs), err)
	}
	if logs[0].Status != RunSuccess {
		t.Fatalf("unexpected run status %s", logs[0].Status)
	}
}

func TestDispatcherConditionErrorSkipsWorkflow(t *testing.T) {
	env := setupAutomationTestDB(t)
	orgID, _ := env.seedOrgLead(t)
	ctx := context.Background()

	wf := env.createTriggeredWorkflow(t, orgID, "Broken", EventLeadCreated, `{}`, true)

	d := env.newDispatcher(t)
	// A nil event context fails evaluation per workflow, not the dispatch.
	if err := d.Trigger(ctx, orgID, EventLeadCreated, nil); err != nil {
		t.Fatalf("expected per-workflow skip, got %v", err)
	}
	logs, _ := env.automation.ListExecutionLogs(ctx, orgID, wf.ID, 10)
	if len(logs) != 0 {
		t.Fatalf("expected no executions after condition error, got %d", len(logs))
	}
}

func TestDispatcherScopesToOrg(t *testing.T) {
	env := setupAutomationTestDB(t)
	orgID, lead := env.seedOrgLead(t)
	ctx := context.Background()

	otherOrg, err := env.orgs.CreateOrganization(ctx, &store.Organization{Name: "Other Org"})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	foreign := env.createTriggeredWorkflow(t, otherOrg, "Foreign", EventLeadCreated, `{}`, true)

	d := env.newDispatcher(t)
	if err := d.Trigger(ctx, orgID, EventLeadCreated, LeadContext(lead, nil, nil)); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	logs, _ := env.automation.ListExecutionLogs(ctx, otherOrg, foreign.ID, 10)
	if len(logs) != 0 {
		t.Fatalf("workflow of another org fired, got %d logs", len(logs))
	}
}

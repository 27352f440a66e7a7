package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/automation"
	"fathom-crm/core/billing"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type testApp struct {
	router         http.Handler
	cfg            *config.AppConfig
	sessionManager *auth.SessionManager
	users          store.UsersStore
	leads          store.LeadsStore
	permissions    store.PermissionsStore
	billing        store.BillingStore
	automation     store.AutomationStore
	orgID          int64
	ownerID        int64
	staffID        int64
	subID          int64
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()
	ctx := context.Background()
	logger := utils.NewTestLogger()
	cfg := &config.AppConfig{
		CSRFKey:    "test-csrf-key",
		Pepper:     "test-pepper",
		Automation: config.AutomationConfig{SystemActorID: 1},
	}
	db, err := store.OpenDB(ctx, "sqlite", filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	orgs := store.NewOrgsStore(db)
	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	permissions := store.NewPermissionsStore(db)
	billingStore := store.NewBillingStore(db)
	leads := store.NewLeadsStore(db)
	automationStore := store.NewAutomationStore(db)
	settings := store.NewSettingsStore(db)
	activity := store.NewActivityStore(db)

	for _, spec := range authz.Catalog() {
		if err := permissions.UpsertKnob(ctx, &store.FeatureKnob{KnobKey: spec.Key, DisplayName: spec.DisplayName, Category: spec.Category, IsSystem: spec.System}); err != nil {
			t.Fatalf("knob %s: %v", spec.Key, err)
		}
	}
	for role, keys := range authz.RoleDefaults() {
		for _, key := range keys {
			if err := permissions.SetRoleDefault(ctx, nil, role, key, true); err != nil {
				t.Fatalf("default %s/%s: %v", role, key, err)
			}
		}
	}

	orgID, err := orgs.CreateOrganization(ctx, &store.Organization{Name: "Org"})
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	planID, err := billingStore.CreatePlan(ctx, &store.Plan{Name: "pro", PriceCents: 4900, BillingPeriod: "monthly", IsActive: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := billingStore.SetPlanFeatures(ctx, planID, []string{authz.KnobAutomation}); err != nil {
		t.Fatalf("plan features: %v", err)
	}
	if err := orgs.SetCurrentPlan(ctx, orgID, planID); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	subID, err := billingStore.CreateSubscription(ctx, &store.Subscription{OrgID: orgID, PlanID: planID, Status: "active"})
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}

	ph, err := auth.HashPassword("owner-password-1", cfg.Pepper)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ownerID, err := users.CreateUser(ctx, &store.User{OrgID: orgID, Username: "owner", Role: authz.RoleOwner, PasswordHash: ph.Hash, Salt: ph.Salt, Active: true})
	if err != nil {
		t.Fatalf("owner: %v", err)
	}
	staffID, err := users.CreateUser(ctx, &store.User{OrgID: orgID, Username: "staff", Role: authz.RoleStaff, PasswordHash: ph.Hash, Salt: ph.Salt, Active: true})
	if err != nil {
		t.Fatalf("staff: %v", err)
	}

	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	authzSvc := authz.NewService(permissions, activity, logger)
	gate := billing.NewGate(billingStore, orgs, logger)
	executor := automation.NewExecutor(automationStore, leads, users, settings, activity, automation.NewHTTPFlowSender(0), cfg, logger)
	dispatcher := automation.NewDispatcher(automationStore, executor, logger)

	server := NewServer(Deps{
		Cfg:            cfg,
		Logger:         logger,
		Users:          users,
		Sessions:       sessions,
		Orgs:           orgs,
		Leads:          leads,
		Permissions:    permissions,
		Billing:        billingStore,
		Automation:     automationStore,
		Settings:       settings,
		Activity:       activity,
		SessionManager: sessionManager,
		Authz:          authzSvc,
		Gate:           gate,
		Dispatcher:     dispatcher,
	})

	return &testApp{
		router:         server.Router(),
		cfg:            cfg,
		sessionManager: sessionManager,
		users:          users,
		leads:          leads,
		permissions:    permissions,
		billing:        billingStore,
		automation:     automationStore,
		orgID:          orgID,
		ownerID:        ownerID,
		staffID:        staffID,
		subID:          subID,
	}
}

func (app *testApp) login(t *testing.T, userID int64) *store.Session {
	t.Helper()
	user, err := app.users.GetUser(context.Background(), userID)
	if err != nil || user == nil {
		t.Fatalf("user %d: %v", userID, err)
	}
	sess, err := app.sessionManager.Create(context.Background(), user, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return sess
}

func (app *testApp) request(t *testing.T, sess *store.Session, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if sess != nil {
		req.AddCookie(&http.Cookie{Name: "fathom_session", Value: sess.ID})
		req.AddCookie(&http.Cookie{Name: "fathom_csrf", Value: sess.CSRFToken})
		if method != http.MethodGet && method != http.MethodHead {
			req.Header.Set("X-CSRF-Token", sess.CSRFToken)
		}
	}
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	return rr
}

func TestRoutesRequireSession(t *testing.T) {
	app := setupTestApp(t)
	rr := app.request(t, nil, http.MethodGet, "/api/leads/", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rr.Code)
	}
}

func TestMutationsRequireCSRF(t *testing.T) {
	app := setupTestApp(t)
	sess := app.login(t, app.ownerID)
	req := httptest.NewRequest(http.MethodPost, "/api/leads/", bytes.NewReader([]byte(`{"name":"Acme"}`)))
	req.AddCookie(&http.Cookie{Name: "fathom_session", Value: sess.ID})
	req.AddCookie(&http.Cookie{Name: "fathom_csrf", Value: sess.CSRFToken})
	rr := httptest.NewRecorder()
	app.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf header, got %d", rr.Code)
	}
}

func TestWorkflowRoutesApplyBothGates(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()

	// Staff lacks the manage_workflows knob.
	staffSess := app.login(t, app.staffID)
	rr := app.request(t, staffSess, http.MethodGet, "/api/workflows/", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rr.Code)
	}

	// Owner passes both gates.
	ownerSess := app.login(t, app.ownerID)
	rr = app.request(t, ownerSess, http.MethodGet, "/api/workflows/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d: %s", rr.Code, rr.Body.String())
	}

	// Cancelling the subscription closes the plan gate even for the owner.
	if err := app.billing.UpdateSubscriptionStatus(ctx, app.subID, "cancelled"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rr = app.request(t, ownerSess, http.MethodGet, "/api/workflows/", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after cancellation, got %d", rr.Code)
	}
}

func TestLeadCreateFiresAutomation(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	ownerSess := app.login(t, app.ownerID)

	wfBody := map[string]any{
		"name":      "Welcome note",
		"is_active": true,
		"triggers":  []map[string]any{{"trigger_type": "lead_created", "condition": map[string]any{}}},
		"actions":   []map[string]any{{"action_type": "add_note", "config": map[string]any{"content": "Welcome {{lead.name}}"}}},
	}
	rr := app.request(t, ownerSess, http.MethodPost, "/api/workflows/", wfBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("workflow create: %d %s", rr.Code, rr.Body.String())
	}
	var wf store.Workflow
	if err := json.Unmarshal(rr.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode workflow: %v", err)
	}

	rr = app.request(t, ownerSess, http.MethodPost, "/api/leads/", map[string]any{"name": "Acme Corp"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("lead create: %d %s", rr.Code, rr.Body.String())
	}
	var lead store.Lead
	if err := json.Unmarshal(rr.Body.Bytes(), &lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}

	notes, err := app.leads.ListNotes(ctx, lead.ID)
	if err != nil || len(notes) != 1 {
		t.Fatalf("expected automation note, got %d (%v)", len(notes), err)
	}
	if notes[0].Body != "Welcome Acme Corp" {
		t.Fatalf("unexpected note %q", notes[0].Body)
	}
	logs, err := app.automation.ListExecutionLogs(ctx, app.orgID, wf.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected execution log, got %d (%v)", len(logs), err)
	}
	if logs[0].TriggerType != "lead_created" || logs[0].Status != "success" {
		t.Fatalf("unexpected log %+v", logs[0])
	}
}

func TestLeadVisibilityScopesList(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()

	mine, err := app.leads.CreateLead(ctx, &store.Lead{OrgID: app.orgID, Name: "Mine", AssignedTo: &app.staffID})
	if err != nil {
		t.Fatalf("lead: %v", err)
	}
	if _, err := app.leads.CreateLead(ctx, &store.Lead{OrgID: app.orgID, Name: "Theirs", AssignedTo: &app.ownerID}); err != nil {
		t.Fatalf("lead: %v", err)
	}

	staffSess := app.login(t, app.staffID)
	rr := app.request(t, staffSess, http.MethodGet, "/api/leads/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Leads []store.Lead `json:"leads"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Leads) != 1 || resp.Leads[0].ID != mine {
		t.Fatalf("expected only the staff's own lead, got %+v", resp.Leads)
	}
}

func TestLeadVisibilityListAndGetAgree(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()

	leadID, err := app.leads.CreateLead(ctx, &store.Lead{OrgID: app.orgID, Name: "Unclaimed"})
	if err != nil {
		t.Fatalf("lead: %v", err)
	}

	// view_unassigned_leads without view_own_assigned_leads grants nothing.
	if err := app.permissions.SetUserOverride(ctx, app.staffID, authz.KnobViewOwnAssignedLeads, false, app.ownerID); err != nil {
		t.Fatalf("override: %v", err)
	}
	if err := app.permissions.SetUserOverride(ctx, app.staffID, authz.KnobViewUnassignedLeads, true, app.ownerID); err != nil {
		t.Fatalf("override: %v", err)
	}
	staffSess := app.login(t, app.staffID)
	rr := app.request(t, staffSess, http.MethodGet, "/api/leads/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Leads []store.Lead `json:"leads"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Leads) != 0 {
		t.Fatalf("expected empty list, got %+v", resp.Leads)
	}
	rr = app.request(t, staffSess, http.MethodGet, fmt.Sprintf("/api/leads/%d", leadID), nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when the list hides the lead, got %d", rr.Code)
	}

	// With both knobs the unassigned lead shows up in both paths.
	if err := app.permissions.SetUserOverride(ctx, app.staffID, authz.KnobViewOwnAssignedLeads, true, app.ownerID); err != nil {
		t.Fatalf("override: %v", err)
	}
	rr = app.request(t, staffSess, http.MethodGet, "/api/leads/", nil)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Leads) != 1 || resp.Leads[0].ID != leadID {
		t.Fatalf("expected the unassigned lead listed, got %+v", resp.Leads)
	}
	rr = app.request(t, staffSess, http.MethodGet, fmt.Sprintf("/api/leads/%d", leadID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with both view knobs, got %d", rr.Code)
	}
}

func TestWorkflowScopeUserAccepted(t *testing.T) {
	app := setupTestApp(t)
	ownerSess := app.login(t, app.ownerID)

	body := map[string]any{
		"name":     "Mine only",
		"scope":    "user",
		"triggers": []map[string]any{{"trigger_type": "lead_created"}},
		"actions":  []map[string]any{{"action_type": "add_note", "config": map[string]any{"content": "hi"}}},
	}
	rr := app.request(t, ownerSess, http.MethodPost, "/api/workflows/", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}
	var wf store.Workflow
	if err := json.Unmarshal(rr.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if wf.Scope != "user" {
		t.Fatalf("expected scope user, got %q", wf.Scope)
	}

	body["name"] = "Bad scope"
	body["scope"] = "personal"
	rr = app.request(t, ownerSess, http.MethodPost, "/api/workflows/", body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for invalid scope, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestNoOpLeadUpdateSkipsAutomation(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	ownerSess := app.login(t, app.ownerID)

	wfBody := map[string]any{
		"name":      "Field watcher",
		"is_active": true,
		"triggers":  []map[string]any{{"trigger_type": "field_changed"}},
		"actions":   []map[string]any{{"action_type": "add_note", "config": map[string]any{"content": "changed"}}},
	}
	rr := app.request(t, ownerSess, http.MethodPost, "/api/workflows/", wfBody)
	if rr.Code != http.StatusCreated {
		t.Fatalf("workflow create: %d %s", rr.Code, rr.Body.String())
	}
	var wf store.Workflow
	if err := json.Unmarshal(rr.Body.Bytes(), &wf); err != nil {
		t.Fatalf("decode workflow: %v", err)
	}

	rr = app.request(t, ownerSess, http.MethodPost, "/api/leads/", map[string]any{"name": "Steady"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("lead create: %d %s", rr.Code, rr.Body.String())
	}
	var lead store.Lead
	if err := json.Unmarshal(rr.Body.Bytes(), &lead); err != nil {
		t.Fatalf("decode lead: %v", err)
	}

	// Identical payload, nothing changes, no workflow run.
	rr = app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/leads/%d", lead.ID), map[string]any{"name": "Steady"})
	if rr.Code != http.StatusOK {
		t.Fatalf("noop update: %d %s", rr.Code, rr.Body.String())
	}
	logs, err := app.automation.ListExecutionLogs(ctx, app.orgID, wf.ID, 10)
	if err != nil || len(logs) != 0 {
		t.Fatalf("expected no runs after a no-op update, got %d (%v)", len(logs), err)
	}

	rr = app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/leads/%d", lead.ID), map[string]any{"name": "Steady", "source": "web"})
	if rr.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rr.Code, rr.Body.String())
	}
	logs, err = app.automation.ListExecutionLogs(ctx, app.orgID, wf.ID, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected one run after a real change, got %d (%v)", len(logs), err)
	}
}

func TestUsersAdminEndpoints(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()

	staffSess := app.login(t, app.staffID)
	rr := app.request(t, staffSess, http.MethodGet, "/api/users/", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rr.Code)
	}

	ownerSess := app.login(t, app.ownerID)
	rr = app.request(t, ownerSess, http.MethodGet, "/api/users/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rr.Code, rr.Body.String())
	}
	var listResp struct {
		Users []store.User `json:"users"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listResp.Users) != 2 {
		t.Fatalf("expected two org users, got %d", len(listResp.Users))
	}

	body := map[string]any{"full_name": "Sam Staff", "role": "manager"}
	rr = app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/users/%d", app.staffID), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rr.Code, rr.Body.String())
	}
	updated, err := app.users.GetUser(ctx, app.staffID)
	if err != nil || updated == nil {
		t.Fatalf("get user: %v", err)
	}
	if updated.Role != "manager" || updated.FullName != "Sam Staff" {
		t.Fatalf("unexpected user after update: %+v", updated)
	}

	// Deactivation revokes live sessions.
	rr = app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/users/%d", app.staffID), map[string]any{"active": false, "role": "manager"})
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate: %d %s", rr.Code, rr.Body.String())
	}
	rr = app.request(t, staffSess, http.MethodGet, "/api/leads/", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for deactivated account, got %d", rr.Code)
	}
}

func TestBillingOverview(t *testing.T) {
	app := setupTestApp(t)
	ownerSess := app.login(t, app.ownerID)

	rr := app.request(t, ownerSess, http.MethodGet, "/api/billing/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("overview: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Plan         *store.Plan         `json:"plan"`
		Subscription *store.Subscription `json:"subscription"`
		Features     []string            `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Plan == nil || resp.Plan.Name != "pro" {
		t.Fatalf("expected the pro plan, got %+v", resp.Plan)
	}
	if resp.Subscription == nil || resp.Subscription.Status != "active" {
		t.Fatalf("expected an active subscription, got %+v", resp.Subscription)
	}
	if len(resp.Features) != 1 || resp.Features[0] != authz.KnobAutomation {
		t.Fatalf("unexpected features %v", resp.Features)
	}
}

func TestPutUserPermissionsRejectsUnknownKnob(t *testing.T) {
	app := setupTestApp(t)
	ownerSess := app.login(t, app.ownerID)
	body := map[string]any{"overrides": map[string]bool{"not_a_real_knob": true}}
	rr := app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/users/%d/permissions", app.staffID), body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown knob, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestPutUserPermissionsOverrideTakesEffect(t *testing.T) {
	app := setupTestApp(t)
	ctx := context.Background()
	ownerSess := app.login(t, app.ownerID)

	body := map[string]any{"overrides": map[string]bool{authz.KnobManageWorkflows: true}}
	rr := app.request(t, ownerSess, http.MethodPut, fmt.Sprintf("/api/users/%d/permissions", app.staffID), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("put permissions: %d %s", rr.Code, rr.Body.String())
	}

	staff, _ := app.users.GetUser(ctx, app.staffID)
	svc := authz.NewService(app.permissions, nil, utils.NewTestLogger())
	ok, err := svc.HasFeature(ctx, staff, authz.KnobManageWorkflows)
	if err != nil || !ok {
		t.Fatalf("expected override to grant, got ok=%v err=%v", ok, err)
	}

	staffSess := app.login(t, app.staffID)
	rr = app.request(t, staffSess, http.MethodGet, "/api/workflows/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected staff with override to pass the knob gate, got %d", rr.Code)
	}
}

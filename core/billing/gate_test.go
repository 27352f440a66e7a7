package billing

import (
	"context"
	"path/filepath"
	"testing"

	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type gateFixture struct {
	billing store.BillingStore
	orgs    store.OrgsStore
	gate    *Gate
	orgID   int64
	planID  int64
	subID   int64
}

func setupGateTest(t *testing.T) *gateFixture {
	t.Helper()
	ctx := context.Background()
	logger := utils.NewTestLogger()
	db, err := store.OpenDB(ctx, "sqlite", filepath.Join(t.TempDir(), "billing.db"))
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	billingStore := store.NewBillingStore(db)
	orgs := store.NewOrgsStore(db)

	orgID, err := orgs.CreateOrganization(ctx, &store.Organization{Name: "Gate Org"})
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	planID, err := billingStore.CreatePlan(ctx, &store.Plan{Name: "pro", PriceCents: 4900, BillingPeriod: "monthly", IsActive: true})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := billingStore.SetPlanFeatures(ctx, planID, []string{"automation", "view_reports"}); err != nil {
		t.Fatalf("features: %v", err)
	}
	if err := orgs.SetCurrentPlan(ctx, orgID, planID); err != nil {
		t.Fatalf("set plan: %v", err)
	}
	subID, err := billingStore.CreateSubscription(ctx, &store.Subscription{OrgID: orgID, PlanID: planID, Status: "active"})
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	return &gateFixture{
		billing: billingStore,
		orgs:    orgs,
		gate:    NewGate(billingStore, orgs, logger),
		orgID:   orgID,
		planID:  planID,
		subID:   subID,
	}
}

func TestGateGrantsPlanFeature(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()
	view := f.gate.ForRequest()
	ok, err := view.HasFeature(ctx, f.orgID, "automation")
	if err != nil || !ok {
		t.Fatalf("expected automation granted, got ok=%v err=%v", ok, err)
	}
	ok, _ = view.HasFeature(ctx, f.orgID, "api_access")
	if ok {
		t.Fatalf("expected feature outside the plan to be denied")
	}
}

func TestGateTrialingEntitles(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()
	if err := f.billing.UpdateSubscriptionStatus(ctx, f.subID, "trialing"); err != nil {
		t.Fatalf("status: %v", err)
	}
	ok, err := f.gate.ForRequest().HasFeature(ctx, f.orgID, "automation")
	if err != nil || !ok {
		t.Fatalf("expected trialing subscription to entitle, got ok=%v err=%v", ok, err)
	}
}

func TestGateCancelledRevokes(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()
	if err := f.billing.UpdateSubscriptionStatus(ctx, f.subID, "cancelled"); err != nil {
		t.Fatalf("status: %v", err)
	}
	ok, err := f.gate.ForRequest().HasFeature(ctx, f.orgID, "automation")
	if err != nil {
		t.Fatalf("has feature: %v", err)
	}
	if ok {
		t.Fatalf("expected cancelled subscription to revoke plan features")
	}
	features, err := f.gate.ForRequest().AllFeatures(ctx, f.orgID)
	if err != nil || len(features) != 0 {
		t.Fatalf("expected empty feature set, got %v (%v)", features, err)
	}
}

func TestGateViewCachesWithinRequestOnly(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()

	view := f.gate.ForRequest()
	if ok, _ := view.HasFeature(ctx, f.orgID, "automation"); !ok {
		t.Fatalf("expected feature before cancellation")
	}
	if err := f.billing.UpdateSubscriptionStatus(ctx, f.subID, "cancelled"); err != nil {
		t.Fatalf("status: %v", err)
	}
	// The same view keeps its snapshot for the request.
	if ok, _ := view.HasFeature(ctx, f.orgID, "automation"); !ok {
		t.Fatalf("expected request-scoped view to keep its snapshot")
	}
	// The next request sees the change.
	if ok, _ := f.gate.ForRequest().HasFeature(ctx, f.orgID, "automation"); ok {
		t.Fatalf("expected a fresh view to observe the cancellation")
	}
}

func TestGateNoSubscriptionDeniesAll(t *testing.T) {
	f := setupGateTest(t)
	ctx := context.Background()
	bareOrg, err := f.orgs.CreateOrganization(ctx, &store.Organization{Name: "Bare Org"})
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	ok, err := f.gate.ForRequest().HasFeature(ctx, bareOrg, "automation")
	if err != nil || ok {
		t.Fatalf("expected org without subscription to be denied, got ok=%v err=%v", ok, err)
	}
}

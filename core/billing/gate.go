package billing

import (
	"context"

	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

// Statuses that grant plan-gated features.
func subscriptionEntitles(status string) bool {
	return status == "active" || status == "trialing"
}

// Gate answers whether an organization's billing plan includes a feature.
// It is independent of the per-user permission layer; callers AND the two.
type Gate struct {
	billing store.BillingStore
	orgs    store.OrgsStore
	logger  *utils.Logger
}

func NewGate(billing store.BillingStore, orgs store.OrgsStore, logger *utils.Logger) *Gate {
	return &Gate{billing: billing, orgs: orgs, logger: logger}
}

// ForRequest returns a view that caches plan-feature sets for the lifetime
// of one request. Never hold it longer, plan changes must be visible on the
// next request.
func (g *Gate) ForRequest() *GateView {
	return &GateView{gate: g, features: make(map[int64]map[string]struct{})}
}

type GateView struct {
	gate     *Gate
	features map[int64]map[string]struct{}
}

func (v *GateView) HasFeature(ctx context.Context, orgID int64, knobKey string) (bool, error) {
	set, err := v.allFeatures(ctx, orgID)
	if err != nil {
		return false, err
	}
	_, ok := set[knobKey]
	return ok, nil
}

// AllFeatures returns the org's entitled knob set, empty when there is no
// active or trialing subscription.
func (v *GateView) AllFeatures(ctx context.Context, orgID int64) ([]string, error) {
	set, err := v.allFeatures(ctx, orgID)
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(set))
	for key := range set {
		res = append(res, key)
	}
	return res, nil
}

func (v *GateView) allFeatures(ctx context.Context, orgID int64) (map[string]struct{}, error) {
	if set, ok := v.features[orgID]; ok {
		return set, nil
	}
	set, err := v.gate.loadFeatures(ctx, orgID)
	if err != nil {
		return nil, err
	}
	v.features[orgID] = set
	return set, nil
}

func (g *Gate) loadFeatures(ctx context.Context, orgID int64) (map[string]struct{}, error) {
	empty := map[string]struct{}{}
	sub, err := g.billing.CurrentSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if sub == nil || !subscriptionEntitles(sub.Status) {
		return empty, nil
	}
	org, err := g.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil || org.CurrentPlanID == nil {
		return empty, nil
	}
	keys, err := g.billing.ListPlanFeatures(ctx, *org.CurrentPlanID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set, nil
}

package handlers

import (
	"net/http"

	"fathom-crm/core/auth"
	"fathom-crm/core/billing"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type BillingHandler struct {
	billing store.BillingStore
	orgs    store.OrgsStore
	gate    *billing.Gate
	logger  *utils.Logger
}

func NewBillingHandler(billingStore store.BillingStore, orgs store.OrgsStore, gate *billing.Gate, logger *utils.Logger) *BillingHandler {
	return &BillingHandler{billing: billingStore, orgs: orgs, gate: gate, logger: logger}
}

// Overview reports the org's current plan, subscription and entitled
// features in one response.
func (h *BillingHandler) Overview(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	org, err := h.orgs.GetOrganization(r.Context(), user.OrgID)
	if err != nil || org == nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	var plan *store.Plan
	if org.CurrentPlanID != nil {
		plan, err = h.billing.GetPlan(r.Context(), *org.CurrentPlanID)
		if err != nil {
			http.Error(w, "server error", http.StatusInternalServerError)
			return
		}
	}
	sub, err := h.billing.CurrentSubscription(r.Context(), user.OrgID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	features, err := h.gate.ForRequest().AllFeatures(r.Context(), user.OrgID)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plan":         plan,
		"subscription": sub,
		"features":     features,
	})
}

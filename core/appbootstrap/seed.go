package appbootstrap

import (
	"context"
	"fmt"

	"fathom-crm/config"
	"fathom-crm/core/auth"
	"fathom-crm/core/authz"
	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

type seeder struct {
	cfg         *config.AppConfig
	orgs        store.OrgsStore
	users       store.UsersStore
	permissions store.PermissionsStore
	billing     store.BillingStore
	logger      *utils.Logger
}

func newSeeder(cfg *config.AppConfig, orgs store.OrgsStore, users store.UsersStore, permissions store.PermissionsStore, billing store.BillingStore, logger *utils.Logger) *seeder {
	return &seeder{cfg: cfg, orgs: orgs, users: users, permissions: permissions, billing: billing, logger: logger}
}

// Run seeds the knob catalog, global role defaults, the starter plans and a
// default organization with an owner account. Every step is idempotent.
func (s *seeder) Run(ctx context.Context) error {
	if err := s.seedKnobCatalog(ctx); err != nil {
		return fmt.Errorf("seed knob catalog: %w", err)
	}
	if err := s.seedGlobalRoleDefaults(ctx); err != nil {
		return fmt.Errorf("seed role defaults: %w", err)
	}
	if err := s.seedDefaultOrg(ctx); err != nil {
		return fmt.Errorf("seed default org: %w", err)
	}
	return nil
}

func (s *seeder) seedKnobCatalog(ctx context.Context) error {
	for _, spec := range authz.Catalog() {
		knob := &store.FeatureKnob{
			KnobKey:     spec.Key,
			DisplayName: spec.DisplayName,
			Category:    spec.Category,
			IsSystem:    spec.System,
		}
		if err := s.permissions.UpsertKnob(ctx, knob); err != nil {
			return err
		}
	}
	return nil
}

// Global defaults are only inserted when the role has no global row for the
// knob yet, so operator-tuned rows survive restarts.
func (s *seeder) seedGlobalRoleDefaults(ctx context.Context) error {
	for role, keys := range authz.RoleDefaults() {
		existing, err := s.permissions.ListRoleDefaults(ctx, 0, role)
		if err != nil {
			return err
		}
		seeded := map[string]bool{}
		for _, row := range existing {
			if row.OrgID == nil {
				seeded[row.KnobKey] = true
			}
		}
		for _, key := range keys {
			if seeded[key] {
				continue
			}
			if err := s.permissions.SetRoleDefault(ctx, nil, role, key, true); err != nil {
				return err
			}
		}
	}
	return nil
}

var starterPlans = []struct {
	name       string
	priceCents int64
	features   []string
}{
	{name: "free", priceCents: 0, features: []string{}},
	{name: "pro", priceCents: 4900, features: []string{
		authz.KnobAutomation, authz.KnobSendMessages, authz.KnobViewReports, authz.KnobAPIAccess,
	}},
}

func (s *seeder) seedDefaultOrg(ctx context.Context) error {
	plans, err := s.billing.ListPlans(ctx)
	if err != nil {
		return err
	}
	planIDs := map[string]int64{}
	for _, p := range plans {
		planIDs[p.Name] = p.ID
	}
	for _, sp := range starterPlans {
		if _, ok := planIDs[sp.name]; ok {
			continue
		}
		id, err := s.billing.CreatePlan(ctx, &store.Plan{Name: sp.name, PriceCents: sp.priceCents, BillingPeriod: "monthly", IsActive: true})
		if err != nil {
			return err
		}
		if err := s.billing.SetPlanFeatures(ctx, id, sp.features); err != nil {
			return err
		}
		planIDs[sp.name] = id
	}

	admin, err := s.users.GetUserByUsername(ctx, s.cfg.AdminUsername)
	if err != nil {
		return err
	}
	if admin != nil {
		return nil
	}

	orgID, err := s.orgs.CreateOrganization(ctx, &store.Organization{Name: "Default Organization"})
	if err != nil {
		return err
	}
	proID := planIDs["pro"]
	if err := s.orgs.SetCurrentPlan(ctx, orgID, proID); err != nil {
		return err
	}
	if _, err := s.billing.CreateSubscription(ctx, &store.Subscription{OrgID: orgID, PlanID: proID, Status: "trialing"}); err != nil {
		return err
	}

	password := s.cfg.AdminPassword
	generated := false
	if password == "" {
		password, err = utils.RandString(20)
		if err != nil {
			return err
		}
		generated = true
	}
	ph, err := auth.HashPassword(password, s.cfg.Pepper)
	if err != nil {
		return err
	}
	if _, err := s.users.CreateUser(ctx, &store.User{
		OrgID:        orgID,
		Username:     s.cfg.AdminUsername,
		Role:         authz.RoleOwner,
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Active:       true,
	}); err != nil {
		return err
	}
	if generated {
		s.logger.Printf("created %s account with generated password: %s", s.cfg.AdminUsername, password)
	} else {
		s.logger.Printf("created %s account", s.cfg.AdminUsername)
	}
	return nil
}

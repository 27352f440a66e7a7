package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fathom-crm/core/store"
	"fathom-crm/core/utils"
)

var ErrForbidden = errors.New("forbidden")

// Service resolves effective feature permissions. The resolution order for
// a knob is: user override, org-scoped role default, global role default,
// false. Nothing is materialized across requests.
type Service struct {
	permissions store.PermissionsStore
	activity    store.ActivityStore
	logger      *utils.Logger
}

func NewService(permissions store.PermissionsStore, activity store.ActivityStore, logger *utils.Logger) *Service {
	return &Service{permissions: permissions, activity: activity, logger: logger}
}

// LoadEffectivePermissions resolves the full knob map for the user. Keys
// absent from the result are false.
func (s *Service) LoadEffectivePermissions(ctx context.Context, user *store.User) (map[string]bool, error) {
	if user == nil {
		return map[string]bool{}, nil
	}
	defaults, err := s.permissions.ListRoleDefaults(ctx, user.OrgID, user.Role)
	if err != nil {
		return nil, err
	}
	eff := make(map[string]bool)
	// Global rows first, then org rows shadow them.
	for _, p := range defaults {
		if p.OrgID == nil {
			eff[p.KnobKey] = p.Enabled
		}
	}
	for _, p := range defaults {
		if p.OrgID != nil {
			eff[p.KnobKey] = p.Enabled
		}
	}
	overrides, err := s.permissions.ListUserOverrides(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		eff[o.KnobKey] = o.Enabled
	}
	return eff, nil
}

func (s *Service) HasFeature(ctx context.Context, user *store.User, knobKey string) (bool, error) {
	eff, err := s.LoadEffectivePermissions(ctx, user)
	if err != nil {
		return false, err
	}
	return eff[knobKey], nil
}

// HasPermission checks a permission by its pre-catalog name. Names without
// a mapping resolve to false.
func (s *Service) HasPermission(ctx context.Context, user *store.User, legacyName string) (bool, error) {
	key, ok := LegacyToKnob(legacyName)
	if !ok {
		return false, nil
	}
	return s.HasFeature(ctx, user, key)
}

func (s *Service) RequirePermission(ctx context.Context, user *store.User, knobKey string) error {
	ok, err := s.HasFeature(ctx, user, knobKey)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// ValidateKnobKeys rejects keys not present in the catalog.
func (s *Service) ValidateKnobKeys(ctx context.Context, keys []string) error {
	knobs, err := s.permissions.ListKnobs(ctx)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(knobs))
	for _, k := range knobs {
		known[k.KnobKey] = struct{}{}
	}
	for _, key := range keys {
		if _, ok := known[strings.TrimSpace(key)]; !ok {
			return fmt.Errorf("unknown knob key %q", key)
		}
	}
	return nil
}

// LeadsFilter returns a WHERE fragment restricting lead rows to what the
// user may see. The caller intersects it with its own filters.
func (s *Service) LeadsFilter(ctx context.Context, user *store.User) (string, []any, error) {
	eff, err := s.LoadEffectivePermissions(ctx, user)
	if err != nil {
		return "", nil, err
	}
	predicate, args := leadsFilterFrom(eff, user.ID)
	return predicate, args, nil
}

func leadsFilterFrom(eff map[string]bool, userID int64) (string, []any) {
	switch {
	case eff[KnobViewAllAssignedLeads]:
		return "1=1", nil
	case eff[KnobViewUnassignedLeads] && eff[KnobViewOwnAssignedLeads]:
		return "assigned_to IS NULL OR assigned_to=?", []any{userID}
	case eff[KnobViewOwnAssignedLeads]:
		return "assigned_to=?", []any{userID}
	default:
		return "1=0", nil
	}
}

// LogActivity records an activity-log entry. Failures are logged and
// swallowed, an audit miss never fails the caller's operation.
func (s *Service) LogActivity(ctx context.Context, entry *store.ActivityEntry) {
	if s.activity == nil || entry == nil {
		return
	}
	if err := s.activity.Log(ctx, entry); err != nil {
		s.logger.Errorf("activity log write failed (%s): %v", entry.ActionType, err)
	}
}

package authz

// Role names. Ordering is for display only, no role implies another.
const (
	RoleOwner   = "owner"
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// Knob keys of the built-in catalog.
const (
	KnobViewAllAssignedLeads = "view_all_assigned_leads"
	KnobViewUnassignedLeads  = "view_unassigned_leads"
	KnobViewOwnAssignedLeads = "view_own_assigned_leads"
	KnobManageLeads          = "manage_leads"
	KnobDeleteLeads          = "delete_leads"
	KnobManageWorkflows      = "manage_workflows"
	KnobManageUsers          = "manage_users"
	KnobManagePermissions    = "manage_permissions"
	KnobManageBilling        = "manage_billing"
	KnobManageSettings       = "manage_settings"
	KnobViewReports          = "view_reports"
	KnobSendMessages         = "send_messages"
	KnobAutomation           = "automation"
	KnobAPIAccess            = "api_access"
)

type KnobSpec struct {
	Key         string
	DisplayName string
	Category    string
	System      bool
}

// Catalog is the full knob set seeded by migrations. Checks against keys
// outside this set resolve to false; user-supplied keys outside it are
// rejected at input.
func Catalog() []KnobSpec {
	return []KnobSpec{
		{Key: KnobViewAllAssignedLeads, DisplayName: "View all leads", Category: "leads"},
		{Key: KnobViewUnassignedLeads, DisplayName: "View unassigned leads", Category: "leads"},
		{Key: KnobViewOwnAssignedLeads, DisplayName: "View own leads", Category: "leads"},
		{Key: KnobManageLeads, DisplayName: "Create and edit leads", Category: "leads"},
		{Key: KnobDeleteLeads, DisplayName: "Delete leads", Category: "leads"},
		{Key: KnobManageWorkflows, DisplayName: "Manage automation workflows", Category: "automation"},
		{Key: KnobManageUsers, DisplayName: "Manage users", Category: "admin", System: true},
		{Key: KnobManagePermissions, DisplayName: "Manage permissions", Category: "admin", System: true},
		{Key: KnobManageBilling, DisplayName: "Manage billing", Category: "admin", System: true},
		{Key: KnobManageSettings, DisplayName: "Manage organization settings", Category: "admin", System: true},
		{Key: KnobViewReports, DisplayName: "View reports", Category: "reports"},
		{Key: KnobSendMessages, DisplayName: "Send messages", Category: "messaging"},
		{Key: KnobAutomation, DisplayName: "Automation engine", Category: "plan", System: true},
		{Key: KnobAPIAccess, DisplayName: "API access", Category: "plan", System: true},
	}
}

// legacyPermissionMap translates permission names that predate the knob
// catalog to their knob keys.
var legacyPermissionMap = map[string]string{
	"leads_view_all":        KnobViewAllAssignedLeads,
	"leads_view_unassigned": KnobViewUnassignedLeads,
	"leads_view_own":        KnobViewOwnAssignedLeads,
	"leads_edit":            KnobManageLeads,
	"leads_delete":          KnobDeleteLeads,
	"workflows_manage":      KnobManageWorkflows,
	"users_manage":          KnobManageUsers,
	"permissions_manage":    KnobManagePermissions,
	"billing_manage":        KnobManageBilling,
	"settings_manage":       KnobManageSettings,
	"reports_view":          KnobViewReports,
	"messages_send":         KnobSendMessages,
}

func LegacyToKnob(legacyName string) (string, bool) {
	key, ok := legacyPermissionMap[legacyName]
	return key, ok
}

// RoleDefaults is the global baseline seeded at bootstrap. Organizations
// override rows per role, users override per knob.
func RoleDefaults() map[string][]string {
	return map[string][]string{
		RoleOwner: {
			KnobViewAllAssignedLeads, KnobViewUnassignedLeads, KnobViewOwnAssignedLeads,
			KnobManageLeads, KnobDeleteLeads, KnobManageWorkflows, KnobManageUsers,
			KnobManagePermissions, KnobManageBilling, KnobManageSettings, KnobViewReports, KnobSendMessages,
		},
		RoleAdmin: {
			KnobViewAllAssignedLeads, KnobViewUnassignedLeads, KnobViewOwnAssignedLeads,
			KnobManageLeads, KnobDeleteLeads, KnobManageWorkflows, KnobManageUsers,
			KnobManagePermissions, KnobViewReports, KnobSendMessages,
		},
		RoleManager: {
			KnobViewAllAssignedLeads, KnobViewUnassignedLeads, KnobViewOwnAssignedLeads,
			KnobManageLeads, KnobManageWorkflows, KnobViewReports, KnobSendMessages,
		},
		RoleStaff: {
			KnobViewOwnAssignedLeads, KnobManageLeads,
		},
	}
}

package automation

import (
	"fathom-crm/core/store"
)

// Event names dispatched by the lead endpoints. Trigger types are free-form
// strings, so new events need no dispatcher change.
const (
	EventLeadCreated      = "lead_created"
	EventLeadStageChanged = "lead_stage_changed"
	EventLeadAssigned     = "lead_assigned"
	EventFieldChanged     = "field_changed"
)

// CustomDataField is the changed-fields entry standing in for any custom
// field change.
const CustomDataField = "custom_data"

// EventContext describes the domain event a trigger fires on. Subject holds
// the current record, Prior the pre-update record for update-style events.
// ChangedFields nil means "unknown", an empty non-nil slice means "nothing
// changed".
type EventContext struct {
	SubjectID     int64
	Subject       map[string]any
	Prior         map[string]any
	ChangedFields []string
}

func (c *EventContext) FieldChanged(name string) bool {
	if c.ChangedFields == nil {
		return true
	}
	for _, f := range c.ChangedFields {
		if f == name {
			return true
		}
	}
	return false
}

// LeadContext builds an event context from a lead record.
func LeadContext(lead *store.Lead, prior *store.Lead, changedFields []string) *EventContext {
	ctx := &EventContext{ChangedFields: changedFields}
	if lead != nil {
		ctx.SubjectID = lead.ID
		ctx.Subject = leadToMap(lead)
	}
	if prior != nil {
		ctx.Prior = leadToMap(prior)
	}
	return ctx
}

func leadToMap(l *store.Lead) map[string]any {
	m := map[string]any{
		"id":      l.ID,
		"org_id":  l.OrgID,
		"name":    l.Name,
		"email":   l.Email,
		"phone":   l.Phone,
		"company": l.Company,
		"stage":   l.Stage,
		"status":  l.Status,
		"source":  l.Source,
		"value":   l.Value,
	}
	if l.AssignedTo != nil {
		m["assigned_to"] = *l.AssignedTo
	}
	if l.OwnerUserID != nil {
		m["owner_user_id"] = *l.OwnerUserID
	}
	if len(l.Custom) > 0 {
		m[CustomDataField] = l.Custom
	}
	return m
}

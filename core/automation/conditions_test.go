package automation

import (
	"testing"

	"fathom-crm/core/store"
)

func leadEvent(custom map[string]any, changed []string) *EventContext {
	lead := &store.Lead{
		ID:     7,
		OrgID:  1,
		Name:   "Acme Corp",
		Email:  "sales@acme.example",
		Stage:  "won",
		Status: "open",
		Value:  1500,
		Custom: custom,
	}
	return LeadContext(lead, nil, changed)
}

func TestEvaluateConditionEmptyAlwaysTrue(t *testing.T) {
	ok, err := EvaluateCondition(Condition{}, leadEvent(nil, nil))
	if err != nil || !ok {
		t.Fatalf("empty condition: ok=%v err=%v", ok, err)
	}
}

func TestEvaluateConditionNilContextErrors(t *testing.T) {
	if _, err := EvaluateCondition(Condition{}, nil); err == nil {
		t.Fatalf("expected error for nil event context")
	}
}

func TestEvaluateConditionToStage(t *testing.T) {
	ev := leadEvent(nil, nil)
	if ok, _ := EvaluateCondition(Condition{ToStage: "won"}, ev); !ok {
		t.Fatalf("expected to_stage=won to match")
	}
	if ok, _ := EvaluateCondition(Condition{ToStage: "lost"}, ev); ok {
		t.Fatalf("expected to_stage=lost not to match")
	}
}

func TestEvaluateConditionOperators(t *testing.T) {
	ev := leadEvent(nil, nil)
	cases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Condition{FieldName: "stage", Operator: "equals", FieldValue: "won"}, true},
		{"equals miss", Condition{FieldName: "stage", Operator: "equals", FieldValue: "lost"}, false},
		{"not_equals", Condition{FieldName: "stage", Operator: "not_equals", FieldValue: "lost"}, true},
		{"contains", Condition{FieldName: "email", Operator: "contains", FieldValue: "acme"}, true},
		{"contains miss", Condition{FieldName: "email", Operator: "contains", FieldValue: "globex"}, false},
		{"not_empty", Condition{FieldName: "email", Operator: "not_empty"}, true},
		{"is_empty", Condition{FieldName: "phone", Operator: "is_empty"}, true},
		{"is_empty miss", Condition{FieldName: "email", Operator: "is_empty"}, false},
		{"unknown operator falls back to equals", Condition{FieldName: "stage", Operator: "matches", FieldValue: "won"}, true},
	}
	for _, tc := range cases {
		got, err := EvaluateCondition(tc.cond, ev)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestEvaluateConditionLooseCoercion(t *testing.T) {
	ev := leadEvent(nil, nil)
	// Stored condition values and lead values meet as "5" vs 5.0.
	if ok, _ := EvaluateCondition(Condition{FieldName: "value", Operator: "equals", FieldValue: "1500"}, ev); !ok {
		t.Fatalf("expected numeric value to compare equal to its string form")
	}
	if ok, _ := EvaluateCondition(Condition{FieldName: "value", Operator: "equals", FieldValue: float64(1500)}, ev); !ok {
		t.Fatalf("expected float64 comparison to hold")
	}
}

func TestEvaluateConditionCustomFieldPrefix(t *testing.T) {
	ev := leadEvent(map[string]any{"region": "emea"}, nil)
	if ok, _ := EvaluateCondition(Condition{FieldName: "custom_region", Operator: "equals", FieldValue: "emea"}, ev); !ok {
		t.Fatalf("expected custom_region to resolve into the custom sub-document")
	}
	if ok, _ := EvaluateCondition(Condition{FieldName: "custom_missing", Operator: "is_empty"}, ev); !ok {
		t.Fatalf("expected absent custom field to read as empty")
	}
}

func TestEvaluateConditionChangedFieldsPresence(t *testing.T) {
	ev := leadEvent(nil, []string{"stage"})
	if ok, _ := EvaluateCondition(Condition{FieldName: "stage", Operator: "changed"}, ev); !ok {
		t.Fatalf("expected changed stage to pass")
	}
	if ok, _ := EvaluateCondition(Condition{FieldName: "email", Operator: "changed"}, ev); ok {
		t.Fatalf("expected unchanged email to fail the presence check")
	}
	// The presence check also guards value operators.
	if ok, _ := EvaluateCondition(Condition{FieldName: "email", Operator: "not_empty"}, ev); ok {
		t.Fatalf("expected unchanged field to fail even when non-empty")
	}
	// A custom field change is recorded under the custom_data entry.
	evCustom := leadEvent(map[string]any{"tier": "gold"}, []string{CustomDataField})
	if ok, _ := EvaluateCondition(Condition{FieldName: "custom_tier", Operator: "equals", FieldValue: "gold"}, evCustom); !ok {
		t.Fatalf("expected custom field change to satisfy the presence check")
	}
}

func TestEvaluateConditionNilChangedFieldsMeansUnknown(t *testing.T) {
	ev := leadEvent(nil, nil)
	if ok, _ := EvaluateCondition(Condition{FieldName: "email", Operator: "changed"}, ev); !ok {
		t.Fatalf("expected changed to pass when the change set is unknown")
	}
}

func TestParseConditionMalformedJSON(t *testing.T) {
	cond := ParseCondition("{not json")
	if cond != (Condition{}) {
		t.Fatalf("expected empty condition for malformed json, got %+v", cond)
	}
	cond = ParseCondition(`{"operator":"equals","field_name":"stage","field_value":"won"}`)
	if cond.FieldName != "stage" || cond.Operator != "equals" {
		t.Fatalf("unexpected parsed condition %+v", cond)
	}
}

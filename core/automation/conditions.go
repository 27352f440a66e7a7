package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Condition struct {
	ToStage    string `json:"to_stage,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
	Operator   string `json:"operator,omitempty"`
	FieldValue any    `json:"field_value,omitempty"`
	AssignType string `json:"assign_type,omitempty"`
}

// ParseCondition reads a stored condition document. Malformed JSON is
// treated as an empty condition, not an error.
func ParseCondition(raw string) Condition {
	var cond Condition
	if strings.TrimSpace(raw) == "" {
		return cond
	}
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		return Condition{}
	}
	return cond
}

// EvaluateCondition checks the condition against the event context. All
// present clauses must hold. An empty condition is always true.
func EvaluateCondition(cond Condition, ev *EventContext) (bool, error) {
	if ev == nil {
		return false, fmt.Errorf("nil event context")
	}
	if cond.ToStage != "" {
		stage, _ := ev.Subject["stage"].(string)
		if stage != cond.ToStage {
			return false, nil
		}
	}
	if cond.FieldName != "" {
		ok, err := evaluateFieldClause(cond, ev)
		if err != nil || !ok {
			return false, err
		}
	}
	// assign_type is an extension point; it currently always passes.
	return true, nil
}

func evaluateFieldClause(cond Condition, ev *EventContext) (bool, error) {
	name := cond.FieldName
	// When the event carries a changed-fields list, the named field must
	// be in it no matter what the operator would say.
	if ev.ChangedFields != nil {
		presenceName := name
		if strings.HasPrefix(name, "custom_") {
			presenceName = CustomDataField
		}
		if !ev.FieldChanged(presenceName) {
			return false, nil
		}
	}
	actual := resolveField(ev.Subject, name)
	op := strings.ToLower(strings.TrimSpace(cond.Operator))
	switch op {
	case "not_equals":
		return !looseEquals(actual, cond.FieldValue), nil
	case "contains":
		return strings.Contains(stringify(actual), stringify(cond.FieldValue)), nil
	case "not_empty":
		return !isEmpty(actual), nil
	case "is_empty":
		return isEmpty(actual), nil
	case "changed":
		// The presence check above is the whole test.
		return true, nil
	case "equals":
		return looseEquals(actual, cond.FieldValue), nil
	default:
		return looseEquals(actual, cond.FieldValue), nil
	}
}

// resolveField reads a field from the subject record. A custom_ prefix
// addresses the custom-data sub-document by the remaining key.
func resolveField(subject map[string]any, name string) any {
	if subject == nil {
		return nil
	}
	if key, ok := strings.CutPrefix(name, "custom_"); ok {
		if custom, ok := subject[CustomDataField].(map[string]any); ok {
			return custom[key]
		}
		return nil
	}
	return subject[name]
}

// looseEquals compares values the way loosely-typed stored data expects:
// "5" equals 5, nil equals "".
func looseEquals(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return stringify(a) == stringify(b)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return stringify(float64(val))
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func isEmpty(v any) bool {
	return stringify(v) == ""
}

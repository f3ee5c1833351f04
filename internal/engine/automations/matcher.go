package automations

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MatchConditions evaluates a rule's flat equality condition set against an
// event payload. Every condition key must be present in the payload with an
// equal value; an empty condition set matches everything. Values are compared
// after normalization so a JSON number in the payload matches the same number
// stored in the rule regardless of decoding type.
func MatchConditions(conditions, payload map[string]interface{}) bool {
	for key, want := range conditions {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if normalize(got) != normalize(want) {
			return false
		}
	}
	return true
}

func normalize(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case int64:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

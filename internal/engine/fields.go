package engine

import (
	"encoding/json"
	"strconv"
)

// StringField reads key from raw as a string. Numeric ids are formatted
// without a fractional part.
func StringField(raw map[string]any, key string) string {
	if raw == nil {
		return ""
	}
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// MapField reads key from raw as a nested object.
func MapField(raw map[string]any, key string) map[string]any {
	if raw == nil {
		return nil
	}
	m, _ := raw[key].(map[string]any)
	return m
}

// BoolField reads key from raw as a bool.
func BoolField(raw map[string]any, key string) bool {
	if raw == nil {
		return false
	}
	b, _ := raw[key].(bool)
	return b
}

// Float converts decoded JSON or YAML numbers.
func Float(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Int converts decoded JSON or YAML numbers to int64.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

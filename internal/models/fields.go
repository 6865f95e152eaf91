package models

import (
	"encoding/json"
	"strconv"
)

// IntField safely extracts an int field from a map.
func IntField(obj map[string]interface{}, field string) int {
	return toInt(obj[field])
}

// StringField safely extracts a string field, returning "" if nil.
func StringField(obj map[string]interface{}, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// BoolField safely extracts a bool field, returning false if nil.
func BoolField(obj map[string]interface{}, field string) bool {
	if v, ok := obj[field].(bool); ok {
		return v
	}
	return false
}

// StringsField returns a list-valued field as strings. A single string
// is returned as a one-element list.
func StringsField(obj map[string]interface{}, field string) []string {
	switch v := obj[field].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// toInt converts various numeric types to int.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	}
	return 0
}

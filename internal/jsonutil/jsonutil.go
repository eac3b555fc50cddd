// Package jsonutil normalizes free-form JSON before it leaves the API:
// camelCase keys, UUIDs as strings, and {} instead of null for objects.
package jsonutil

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
)

// CamelCase converts snake_case or kebab-case to camelCase.
// Keys that are already camelCase pass through.
func CamelCase(s string) string {
	if !strings.ContainsAny(s, "_-") {
		return s
	}
	return strcase.ToLowerCamel(strings.Trim(s, "_-"))
}

// NormalizeKeys walks maps and slices, camelCasing keys and turning UUID
// values into strings. A nil map becomes an empty object.
func NormalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[CamelCase(k)] = NormalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeKeys(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeKeys(val)
		}
		return out
	case uuid.UUID:
		return t.String()
	case *uuid.UUID:
		if t == nil {
			return nil
		}
		return t.String()
	case [16]byte:
		return uuid.UUID(t).String()
	default:
		return v
	}
}

// Object decodes a JSON object column. NULL, empty and non-object values
// all yield an empty map.
func Object(raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return out
	}
	return NormalizeKeys(m).(map[string]any)
}

// Encode marshals an object for storage, writing {} for nil.
func Encode(m map[string]any) []byte {
	if m == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}

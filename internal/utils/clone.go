package utils

import "reflect"

// CloneMap deep copies a decoded JSON-like map. Nested maps and slices are
// copied; every other value is treated as immutable and shared.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// MergeMap writes every key of patch into dst, cloning the values.
func MergeMap(dst, patch map[string]any) {
	for k, v := range patch {
		dst[k] = cloneValue(v)
	}
}

// EqualMaps reports whether two JSON-like maps hold the same values.
func EqualMaps(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

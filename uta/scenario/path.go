package scenario

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
)

// Lookup resolves a "$.a.b.0" path against a decoded JSON payload. Only the
// dotted subset is supported: object keys and numeric list indexes.
func Lookup(obj any, path string) (any, bool) {
	if !strings.HasPrefix(path, "$.") {
		return nil, false
	}
	cur := obj
	for _, key := range strings.Split(path[2:], ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// ToFloat converts JSON and YAML numeric representations (and numeric
// strings) to float64.
func ToFloat(v any) (float64, bool) {
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
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares decoded values, treating numbers of different Go types
// as equal when their values match.
func ValuesEqual(actual, expected any) bool {
	if _, isString := actual.(string); !isString {
		if a, ok := ToFloat(actual); ok {
			if _, expString := expected.(string); !expString {
				if e, ok := ToFloat(expected); ok {
					return a == e
				}
			}
		}
	}
	return reflect.DeepEqual(actual, expected)
}

// Package dsl evaluates engine.Condition/Modification trees against a
// JSON document representation of a record. It is shared by the two
// reference engines (memdb, sqlitedb) so condition semantics stay
// identical regardless of where the bytes live.
package dsl

import (
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/migrant/internal/engine"
)

// EvalCondition reports whether doc (a JSON-object-shaped map) matches cond.
func EvalCondition(cond engine.Condition, doc map[string]any) bool {
	switch cond.Op {
	case "", "always":
		return true
	case "eq":
		return CompareAny(doc[cond.Field], DecodeValue(cond.Value)) == 0
	case "gt":
		return CompareAny(doc[cond.Field], DecodeValue(cond.Value)) > 0
	case "and":
		for _, sub := range cond.Sub {
			if !EvalCondition(sub, doc) {
				return false
			}
		}
		return true
	case "or":
		for _, sub := range cond.Sub {
			if EvalCondition(sub, doc) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// DecodeValue unmarshals a raw condition value into a comparable Go value.
func DecodeValue(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

// CompareAny compares two decoded JSON scalars, returning -1, 0, or 1.
// Numbers compare numerically; everything else compares as strings.
func CompareAny(a, b any) int {
	af, aok := AsNumber(a)
	bf, bok := AsNumber(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// AsNumber extracts a float64 from a decoded JSON scalar, if it is numeric.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// AsFloat is AsNumber with a zero-value fallback, for aggregates.
func AsFloat(v any) float64 {
	f, _ := AsNumber(v)
	return f
}

// MergeFields applies a "set these fields" style Modification.Fields
// patch over base, returning the merged document.
func MergeFields(base map[string]any, patch json.RawMessage) (map[string]any, error) {
	merged := make(map[string]any, len(base))
	for k, v := range base {
		merged[k] = v
	}
	if len(patch) == 0 {
		return merged, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged, nil
}

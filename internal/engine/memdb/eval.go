package memdb

import (
	"encoding/json"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/dsl"
)

func evalCondition(cond engine.Condition, doc map[string]any) bool {
	return dsl.EvalCondition(cond, doc)
}

func compareAny(a, b any) int { return dsl.CompareAny(a, b) }

func asFloat(v any) float64 { return dsl.AsFloat(v) }

// applyModification applies mod to base, producing the updated model.
// "assign" replaces the record wholesale (used by backfill's upsert and
// by UpsertOne/ReplaceOne semantics); any other op merges the
// modification's fields over the existing document, covering the
// common "set these fields" shape without migrant needing to
// understand the full Modification grammar.
func applyModification[M any](mod engine.Modification, baseDoc map[string]any, fallback M) (M, error) {
	switch mod.Op {
	case "assign":
		return fromDoc[M](mod.Fields)
	case "":
		return fallback, nil
	default:
		merged, err := dsl.MergeFields(baseDoc, mod.Fields)
		if err != nil {
			return fallback, err
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return fallback, err
		}
		return fromDoc[M](raw)
	}
}

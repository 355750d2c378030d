package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/dsl"
)

type table[M any] struct {
	db   *sql.DB
	name string
}

type dbRow struct {
	id        string
	doc       map[string]any
	raw       json.RawMessage
	embedding []byte
}

// scanCandidates loads rows that might match cond, pushing id-equality
// and id-greater-than down into SQL (the only conditions migrant's own
// backfill/verify code issues) and falling back to a full table scan
// for anything else, since the opaque Condition tree may reference
// fields sqlitedb cannot index.
func (t *table[M]) scanCandidates(ctx context.Context, cond engine.Condition) ([]dbRow, error) {
	query := fmt.Sprintf(`SELECT id, doc, embedding FROM %s`, t.name)
	args := []any{}
	if cond.Field == "id" {
		switch cond.Op {
		case "eq":
			query += " WHERE id = ?"
			args = append(args, scalarString(cond.Value))
		case "gt":
			query += " WHERE id > ?"
			args = append(args, scalarString(cond.Value))
		}
	}
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []dbRow
	for rows.Next() {
		var id, docJSON string
		var embedding []byte
		if err := rows.Scan(&id, &docJSON, &embedding); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
			return nil, err
		}
		out = append(out, dbRow{id: id, doc: doc, raw: json.RawMessage(docJSON), embedding: embedding})
	}
	return out, rows.Err()
}

func scalarString(raw json.RawMessage) string {
	v := dsl.DecodeValue(raw)
	return fmt.Sprintf("%v", v)
}

func (t *table[M]) match(ctx context.Context, cond engine.Condition) ([]dbRow, error) {
	candidates, err := t.scanCandidates(ctx, cond)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, r := range candidates {
		if dsl.EvalCondition(cond, r.doc) {
			out = append(out, r)
		}
	}
	return out, nil
}

func sortRows(rows []dbRow, orderBy []engine.SortPart) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(a, b int) bool {
		for _, s := range orderBy {
			cmp := dsl.CompareAny(rows[a].doc[s.Field], rows[b].doc[s.Field])
			if cmp == 0 {
				continue
			}
			if s.Order == engine.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func decodeModel[M any](raw json.RawMessage) (M, error) {
	var m M
	err := json.Unmarshal(raw, &m)
	return m, err
}

func (t *table[M]) idOf(m M) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	if id, ok := doc["id"]; ok {
		return fmt.Sprintf("%v", id), nil
	}
	return "", fmt.Errorf("sqlitedb: model has no \"id\" field")
}

func (t *table[M]) putLocked(ctx context.Context, id string, m M, embedding []byte) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, doc, embedding) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, embedding = COALESCE(excluded.embedding, %s.embedding)`, t.name, t.name),
		id, string(raw), embedding)
	return err
}

func (t *table[M]) Insert(ctx context.Context, models []M) ([]M, error) {
	out := make([]M, 0, len(models))
	for _, m := range models {
		id, err := t.idOf(m)
		if err != nil {
			return nil, err
		}
		if err := t.putLocked(ctx, id, m, nil); err != nil {
			return nil, fmt.Errorf("sqlitedb: insert: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *table[M]) ReplaceOne(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	sortRows(rows, orderBy)
	if len(rows) == 0 {
		return engine.Replacement[M]{}, nil
	}
	before, err := decodeModel[M](rows[0].raw)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	id, err := t.idOf(model)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	if err := t.putLocked(ctx, id, model, nil); err != nil {
		return engine.Replacement[M]{}, err
	}
	return engine.Replacement[M]{Before: &before, After: &model}, nil
}

func (t *table[M]) ReplaceOneIgnoringResult(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) error {
	_, err := t.ReplaceOne(ctx, cond, model, orderBy)
	return err
}

func (t *table[M]) UpsertOne(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) (engine.Replacement[M], error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	if len(rows) == 0 {
		id, err := t.idOf(model)
		if err != nil {
			return engine.Replacement[M]{}, err
		}
		if err := t.putLocked(ctx, id, model, nil); err != nil {
			return engine.Replacement[M]{}, err
		}
		return engine.Replacement[M]{After: &model}, nil
	}
	before, err := decodeModel[M](rows[0].raw)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	after, err := applyModification[M](mod, rows[0].doc, model)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	id, err := t.idOf(after)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	if err := t.putLocked(ctx, id, after, nil); err != nil {
		return engine.Replacement[M]{}, err
	}
	return engine.Replacement[M]{Before: &before, After: &after}, nil
}

func (t *table[M]) UpsertOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) error {
	_, err := t.UpsertOne(ctx, cond, mod, model)
	return err
}

func (t *table[M]) UpdateOne(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	sortRows(rows, orderBy)
	if len(rows) == 0 {
		return engine.Replacement[M]{}, nil
	}
	before, err := decodeModel[M](rows[0].raw)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	after, err := applyModification[M](mod, rows[0].doc, before)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	if err := t.putLocked(ctx, rows[0].id, after, rows[0].embedding); err != nil {
		return engine.Replacement[M]{}, err
	}
	return engine.Replacement[M]{Before: &before, After: &after}, nil
}

func (t *table[M]) UpdateOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) error {
	_, err := t.UpdateOne(ctx, cond, mod, orderBy)
	return err
}

func (t *table[M]) UpdateMany(ctx context.Context, cond engine.Condition, mod engine.Modification) ([]M, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		before, err := decodeModel[M](r.raw)
		if err != nil {
			return nil, err
		}
		after, err := applyModification[M](mod, r.doc, before)
		if err != nil {
			return nil, err
		}
		if err := t.putLocked(ctx, r.id, after, r.embedding); err != nil {
			return nil, err
		}
		out = append(out, after)
	}
	return out, nil
}

func (t *table[M]) UpdateManyIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification) error {
	_, err := t.UpdateMany(ctx, cond, mod)
	return err
}

func (t *table[M]) DeleteOne(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) (*M, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	sortRows(rows, orderBy)
	if len(rows) == 0 {
		return nil, nil
	}
	old, err := decodeModel[M](rows[0].raw)
	if err != nil {
		return nil, err
	}
	if _, err := t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.name), rows[0].id); err != nil {
		return nil, err
	}
	return &old, nil
}

func (t *table[M]) DeleteOneIgnoringOld(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) error {
	_, err := t.DeleteOne(ctx, cond, orderBy)
	return err
}

func (t *table[M]) DeleteMany(ctx context.Context, cond engine.Condition) ([]M, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		m, err := decodeModel[M](r.raw)
		if err != nil {
			return nil, err
		}
		if _, err := t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, t.name), r.id); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *table[M]) DeleteManyIgnoringOld(ctx context.Context, cond engine.Condition) error {
	_, err := t.DeleteMany(ctx, cond)
	return err
}

func (t *table[M]) Find(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]M, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	sortRows(rows, orderBy)
	out := make([]M, 0, len(rows))
	for _, r := range rows {
		m, err := decodeModel[M](r.raw)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *table[M]) FindPartial(ctx context.Context, fields []string, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]map[string]any, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	sortRows(rows, orderBy)
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		partial := make(map[string]any, len(fields))
		for _, f := range fields {
			partial[f] = r.doc[f]
		}
		out = append(out, partial)
	}
	return out, nil
}

func (t *table[M]) Count(ctx context.Context, cond engine.Condition) (int, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (t *table[M]) GroupCount(ctx context.Context, groupBy string, cond engine.Condition) (map[string]int, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, r := range rows {
		key := fmt.Sprintf("%v", r.doc[groupBy])
		out[key]++
	}
	return out, nil
}

func (t *table[M]) Aggregate(ctx context.Context, cond engine.Condition, aggregate string, property string) (float64, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return 0, err
	}
	return aggregateRows(rows, aggregate, property), nil
}

func (t *table[M]) GroupAggregate(ctx context.Context, groupBy string, cond engine.Condition, aggregate string, property string) (map[string]float64, error) {
	rows, err := t.match(ctx, cond)
	if err != nil {
		return nil, err
	}
	groups := make(map[string][]dbRow)
	for _, r := range rows {
		key := fmt.Sprintf("%v", r.doc[groupBy])
		groups[key] = append(groups[key], r)
	}
	out := make(map[string]float64, len(groups))
	for k, g := range groups {
		out[k] = aggregateRows(g, aggregate, property)
	}
	return out, nil
}

func aggregateRows(rows []dbRow, aggregate, property string) float64 {
	if aggregate == "count" {
		return float64(len(rows))
	}
	var sum, min, max float64
	for i, r := range rows {
		v := dsl.AsFloat(r.doc[property])
		sum += v
		if i == 0 || v < min {
			min = v
		}
		if i == 0 || v > max {
			max = v
		}
	}
	switch aggregate {
	case "sum":
		return sum
	case "average":
		if len(rows) == 0 {
			return 0
		}
		return sum / float64(len(rows))
	case "min":
		return min
	case "max":
		return max
	default:
		return sum
	}
}

// applyModification mirrors memdb's semantics: "assign" replaces the
// record wholesale, anything else merges fields over the prior document.
func applyModification[M any](mod engine.Modification, baseDoc map[string]any, fallback M) (M, error) {
	switch mod.Op {
	case "assign":
		return decodeModel[M](mod.Fields)
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
		return decodeModel[M](raw)
	}
}

// Package memdb is an in-memory reference implementation of
// engine.Database, used by migrant's own tests and as a fast stand-in
// for a legacy engine during development. Records are addressed
// through their JSON representation so Condition/Modification trees
// built from engine.Path values can be evaluated generically without
// reflecting over M's Go struct tags.
package memdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperengineering/migrant/internal/engine"
)

// Database is an in-memory engine.Database[M].
type Database[M any] struct {
	mu     sync.RWMutex
	tables map[string]*table[M]
	health engine.Health
}

// New creates an empty in-memory database.
func New[M any]() *Database[M] {
	return &Database[M]{
		tables: make(map[string]*table[M]),
		health: engine.Health{Level: engine.HealthOK, Message: "memdb ready"},
	}
}

func (d *Database[M]) Table(ctx context.Context, name string) (engine.Table[M], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		t = newTable[M]()
		d.tables[name] = t
	}
	return t, nil
}

func (d *Database[M]) Connect(ctx context.Context) error    { return nil }
func (d *Database[M]) Disconnect(ctx context.Context) error { return nil }

func (d *Database[M]) HealthCheck(ctx context.Context) (engine.Health, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health, nil
}

func (d *Database[M]) HealthCheckFrequency() (bool, int64) { return false, 0 }

// SetHealth lets tests simulate a degraded engine.
func (d *Database[M]) SetHealth(h engine.Health) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = h
}

type row struct {
	doc map[string]any
	obj json.RawMessage
}

type table[M any] struct {
	mu   sync.RWMutex
	rows []row
	seq  int
}

func newTable[M any]() *table[M] {
	return &table[M]{}
}

func toDoc[M any](m M) (map[string]any, json.RawMessage, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, err
	}
	return doc, raw, nil
}

func fromDoc[M any](raw json.RawMessage) (M, error) {
	var m M
	err := json.Unmarshal(raw, &m)
	return m, err
}

func (t *table[M]) Insert(ctx context.Context, models []M) ([]M, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]M, 0, len(models))
	for _, m := range models {
		doc, raw, err := toDoc(m)
		if err != nil {
			return nil, err
		}
		t.rows = append(t.rows, row{doc: doc, obj: raw})
		out = append(out, m)
	}
	return out, nil
}

func (t *table[M]) matchLocked(cond engine.Condition) []int {
	var idx []int
	for i, r := range t.rows {
		if evalCondition(cond, r.doc) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (t *table[M]) ReplaceOne(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.matchLocked(cond)
	sortIndexes(t.rows, idx, orderBy)
	if len(idx) == 0 {
		return engine.Replacement[M]{}, nil
	}
	i := idx[0]
	before, err := fromDoc[M](t.rows[i].obj)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	doc, raw, err := toDoc(model)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	t.rows[i] = row{doc: doc, obj: raw}
	return engine.Replacement[M]{Before: &before, After: &model}, nil
}

func (t *table[M]) ReplaceOneIgnoringResult(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) error {
	_, err := t.ReplaceOne(ctx, cond, model, orderBy)
	return err
}

func (t *table[M]) UpsertOne(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) (engine.Replacement[M], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.matchLocked(cond)
	if len(idx) == 0 {
		doc, raw, err := toDoc(model)
		if err != nil {
			return engine.Replacement[M]{}, err
		}
		t.rows = append(t.rows, row{doc: doc, obj: raw})
		return engine.Replacement[M]{After: &model}, nil
	}
	i := idx[0]
	before, err := fromDoc[M](t.rows[i].obj)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	after, err := applyModification(mod, t.rows[i].doc, model)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	doc, raw, err := toDoc(after)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	t.rows[i] = row{doc: doc, obj: raw}
	return engine.Replacement[M]{Before: &before, After: &after}, nil
}

func (t *table[M]) UpsertOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) error {
	_, err := t.UpsertOne(ctx, cond, mod, model)
	return err
}

func (t *table[M]) UpdateOne(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.matchLocked(cond)
	sortIndexes(t.rows, idx, orderBy)
	if len(idx) == 0 {
		return engine.Replacement[M]{}, nil
	}
	i := idx[0]
	before, err := fromDoc[M](t.rows[i].obj)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	after, err := applyModification(mod, t.rows[i].doc, before)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	doc, raw, err := toDoc(after)
	if err != nil {
		return engine.Replacement[M]{}, err
	}
	t.rows[i] = row{doc: doc, obj: raw}
	return engine.Replacement[M]{Before: &before, After: &after}, nil
}

func (t *table[M]) UpdateOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) error {
	_, err := t.UpdateOne(ctx, cond, mod, orderBy)
	return err
}

func (t *table[M]) UpdateMany(ctx context.Context, cond engine.Condition, mod engine.Modification) ([]M, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.matchLocked(cond)
	out := make([]M, 0, len(idx))
	for _, i := range idx {
		before, err := fromDoc[M](t.rows[i].obj)
		if err != nil {
			return nil, err
		}
		after, err := applyModification(mod, t.rows[i].doc, before)
		if err != nil {
			return nil, err
		}
		doc, raw, err := toDoc(after)
		if err != nil {
			return nil, err
		}
		t.rows[i] = row{doc: doc, obj: raw}
		out = append(out, after)
	}
	return out, nil
}

func (t *table[M]) UpdateManyIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification) error {
	_, err := t.UpdateMany(ctx, cond, mod)
	return err
}

func (t *table[M]) DeleteOne(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) (*M, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.matchLocked(cond)
	sortIndexes(t.rows, idx, orderBy)
	if len(idx) == 0 {
		return nil, nil
	}
	i := idx[0]
	old, err := fromDoc[M](t.rows[i].obj)
	if err != nil {
		return nil, err
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return &old, nil
}

func (t *table[M]) DeleteOneIgnoringOld(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) error {
	_, err := t.DeleteOne(ctx, cond, orderBy)
	return err
}

func (t *table[M]) DeleteMany(ctx context.Context, cond engine.Condition) ([]M, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var kept []row
	var removed []M
	for _, r := range t.rows {
		if evalCondition(cond, r.doc) {
			m, err := fromDoc[M](r.obj)
			if err != nil {
				return nil, err
			}
			removed = append(removed, m)
			continue
		}
		kept = append(kept, r)
	}
	t.rows = kept
	return removed, nil
}

func (t *table[M]) DeleteManyIgnoringOld(ctx context.Context, cond engine.Condition) error {
	_, err := t.DeleteMany(ctx, cond)
	return err
}

func (t *table[M]) Find(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]M, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.matchLocked(cond)
	sortIndexes(t.rows, idx, orderBy)
	out := make([]M, 0, len(idx))
	for _, i := range idx {
		m, err := fromDoc[M](t.rows[i].obj)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (t *table[M]) FindPartial(ctx context.Context, fields []string, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.matchLocked(cond)
	sortIndexes(t.rows, idx, orderBy)
	out := make([]map[string]any, 0, len(idx))
	for _, i := range idx {
		partial := make(map[string]any, len(fields))
		for _, f := range fields {
			partial[f] = t.rows[i].doc[f]
		}
		out = append(out, partial)
	}
	return out, nil
}

func (t *table[M]) Count(ctx context.Context, cond engine.Condition) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.matchLocked(cond)), nil
}

func (t *table[M]) GroupCount(ctx context.Context, groupBy string, cond engine.Condition) (map[string]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int)
	for _, i := range t.matchLocked(cond) {
		key := fmt.Sprintf("%v", t.rows[i].doc[groupBy])
		out[key]++
	}
	return out, nil
}

func (t *table[M]) Aggregate(ctx context.Context, cond engine.Condition, aggregate string, property string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := t.matchLocked(cond)
	return aggregateValues(t.rows, idx, aggregate, property), nil
}

func (t *table[M]) GroupAggregate(ctx context.Context, groupBy string, cond engine.Condition, aggregate string, property string) (map[string]float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	groups := make(map[string][]int)
	for _, i := range t.matchLocked(cond) {
		key := fmt.Sprintf("%v", t.rows[i].doc[groupBy])
		groups[key] = append(groups[key], i)
	}
	out := make(map[string]float64, len(groups))
	for k, idx := range groups {
		out[k] = aggregateValues(t.rows, idx, aggregate, property)
	}
	return out, nil
}

func (t *table[M]) FindSimilar(ctx context.Context, embedding []float32, field string, maxResults int) ([]M, error) {
	return nil, engine.ErrUnsupported
}

func (t *table[M]) FindSimilarSparse(ctx context.Context, terms map[string]float32, field string, maxResults int) ([]M, error) {
	return nil, engine.ErrUnsupported
}

func sortIndexes(rows []row, idx []int, orderBy []engine.SortPart) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(idx, func(a, b int) bool {
		da, db := rows[idx[a]].doc, rows[idx[b]].doc
		for _, s := range orderBy {
			cmp := compareAny(da[s.Field], db[s.Field])
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

func aggregateValues(rows []row, idx []int, aggregate, property string) float64 {
	switch aggregate {
	case "count":
		return float64(len(idx))
	}
	var sum float64
	var n int
	var min, max float64
	for i, rowIdx := range idx {
		v := asFloat(rows[rowIdx].doc[property])
		sum += v
		n++
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
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	case "min":
		return min
	case "max":
		return max
	default:
		return sum
	}
}

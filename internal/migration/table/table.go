// Package table implements MigrationTable, the engine.Table facade
// that routes reads and writes between a source and target engine
// according to the current migration phase.
package table

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/migration/retry"
)

// Phase mirrors migration.Phase without importing the migration
// package, which would create an import cycle (migration imports
// table to build its facade). The top-level Database converts its
// migration.Phase values to table.Phase at the boundary.
type Phase int

const (
	SourceOnly Phase = iota
	DualWriteReadSource
	DualWriteReadTarget
	TargetOnly
)

type engineSide int

const (
	sideNone engineSide = iota
	sideSource
	sideTarget
)

func route(p Phase) (read, primary, secondary engineSide) {
	switch p {
	case SourceOnly:
		return sideSource, sideSource, sideNone
	case DualWriteReadSource:
		return sideSource, sideSource, sideTarget
	case DualWriteReadTarget:
		return sideTarget, sideTarget, sideSource
	case TargetOnly:
		return sideTarget, sideTarget, sideNone
	default:
		return sideSource, sideSource, sideNone
	}
}

// PhaseSource reports the effective Phase for a table, read lock-free
// from the caller's registry.
type PhaseSource interface {
	Phase() Phase
}

// MigrationTable implements engine.Table[M], dispatching each call to
// the source and/or target table according to the current phase. A
// failed secondary write is enqueued on retryQueue instead of failing
// the caller's request — the primary write already succeeded and the
// caller should not pay for the secondary's outage.
type MigrationTable[M any] struct {
	name   string
	phases PhaseSource
	source engine.Table[M]
	target engine.Table[M]
	retry  *retry.Queue[M]
}

// New builds a MigrationTable. retryQueue may be nil if the caller
// never wants secondary failures retried (tests mostly).
func New[M any](name string, phases PhaseSource, source, target engine.Table[M], retryQueue *retry.Queue[M]) *MigrationTable[M] {
	return &MigrationTable[M]{name: name, phases: phases, source: source, target: target, retry: retryQueue}
}

func (t *MigrationTable[M]) tableFor(side engineSide) engine.Table[M] {
	switch side {
	case sideSource:
		return t.source
	case sideTarget:
		return t.target
	default:
		return nil
	}
}

func (t *MigrationTable[M]) enqueueSecondary(op retry.Operation[M], secondary engineSide) {
	if t.retry == nil {
		return
	}
	if err := t.retry.Enqueue(op, t.tableFor(secondary)); err != nil {
		slog.Error("failed to enqueue secondary write retry",
			"component", "migration",
			"table", t.name,
			"op", op.Kind(),
			"error", err)
	}
}

// Insert writes to the primary engine, then (if dual-write) attempts
// the secondary synchronously using the primary's returned values — an
// insert that let the primary assign defaults (IDs, timestamps) must
// propagate those same values rather than let the secondary
// independently generate its own.
func (t *MigrationTable[M]) Insert(ctx context.Context, models []M) ([]M, error) {
	_, primary, secondary := route(t.phases.Phase())
	result, err := t.tableFor(primary).Insert(ctx, models)
	if err != nil {
		return nil, err
	}
	if secondary != sideNone && len(result) > 0 {
		if _, serr := t.tableFor(secondary).Insert(ctx, result); serr != nil {
			for _, m := range result {
				t.enqueueSecondary(retry.Insert[M]{Record: m}, secondary)
			}
		}
	}
	return result, nil
}

func (t *MigrationTable[M]) ReplaceOne(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	_, primary, secondary := route(t.phases.Phase())
	rep, err := t.tableFor(primary).ReplaceOne(ctx, cond, model, orderBy)
	if err != nil {
		return rep, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).ReplaceOneIgnoringResult(ctx, cond, model, orderBy); serr != nil {
			t.enqueueSecondary(retry.Replace[M]{Match: cond, Replacement: model, OrderBy: orderBy}, secondary)
		}
	}
	return rep, nil
}

func (t *MigrationTable[M]) ReplaceOneIgnoringResult(ctx context.Context, cond engine.Condition, model M, orderBy []engine.SortPart) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).ReplaceOneIgnoringResult(ctx, cond, model, orderBy); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).ReplaceOneIgnoringResult(ctx, cond, model, orderBy); serr != nil {
			t.enqueueSecondary(retry.Replace[M]{Match: cond, Replacement: model, OrderBy: orderBy}, secondary)
		}
	}
	return nil
}

func (t *MigrationTable[M]) UpsertOne(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) (engine.Replacement[M], error) {
	_, primary, secondary := route(t.phases.Phase())
	rep, err := t.tableFor(primary).UpsertOne(ctx, cond, mod, model)
	if err != nil {
		return rep, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpsertOneIgnoringResult(ctx, cond, mod, model); serr != nil {
			t.enqueueSecondary(retry.Upsert[M]{Match: cond, Mod: mod, Record: model}, secondary)
		}
	}
	return rep, nil
}

func (t *MigrationTable[M]) UpsertOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, model M) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).UpsertOneIgnoringResult(ctx, cond, mod, model); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpsertOneIgnoringResult(ctx, cond, mod, model); serr != nil {
			t.enqueueSecondary(retry.Upsert[M]{Match: cond, Mod: mod, Record: model}, secondary)
		}
	}
	return nil
}

func (t *MigrationTable[M]) UpdateOne(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) (engine.Replacement[M], error) {
	_, primary, secondary := route(t.phases.Phase())
	rep, err := t.tableFor(primary).UpdateOne(ctx, cond, mod, orderBy)
	if err != nil {
		return rep, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpdateOneIgnoringResult(ctx, cond, mod, orderBy); serr != nil {
			t.enqueueSecondary(retry.UpdateOne[M]{Match: cond, Mod: mod, OrderBy: orderBy}, secondary)
		}
	}
	return rep, nil
}

func (t *MigrationTable[M]) UpdateOneIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification, orderBy []engine.SortPart) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).UpdateOneIgnoringResult(ctx, cond, mod, orderBy); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpdateOneIgnoringResult(ctx, cond, mod, orderBy); serr != nil {
			t.enqueueSecondary(retry.UpdateOne[M]{Match: cond, Mod: mod, OrderBy: orderBy}, secondary)
		}
	}
	return nil
}

func (t *MigrationTable[M]) UpdateMany(ctx context.Context, cond engine.Condition, mod engine.Modification) ([]M, error) {
	_, primary, secondary := route(t.phases.Phase())
	results, err := t.tableFor(primary).UpdateMany(ctx, cond, mod)
	if err != nil {
		return nil, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpdateManyIgnoringResult(ctx, cond, mod); serr != nil {
			t.enqueueSecondary(retry.UpdateMany[M]{Match: cond, Mod: mod}, secondary)
		}
	}
	return results, nil
}

func (t *MigrationTable[M]) UpdateManyIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).UpdateManyIgnoringResult(ctx, cond, mod); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).UpdateManyIgnoringResult(ctx, cond, mod); serr != nil {
			t.enqueueSecondary(retry.UpdateMany[M]{Match: cond, Mod: mod}, secondary)
		}
	}
	return nil
}

func (t *MigrationTable[M]) DeleteOne(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) (*M, error) {
	_, primary, secondary := route(t.phases.Phase())
	old, err := t.tableFor(primary).DeleteOne(ctx, cond, orderBy)
	if err != nil {
		return old, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).DeleteOneIgnoringOld(ctx, cond, orderBy); serr != nil {
			t.enqueueSecondary(retry.DeleteOne[M]{Match: cond, OrderBy: orderBy}, secondary)
		}
	}
	return old, nil
}

func (t *MigrationTable[M]) DeleteOneIgnoringOld(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).DeleteOneIgnoringOld(ctx, cond, orderBy); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).DeleteOneIgnoringOld(ctx, cond, orderBy); serr != nil {
			t.enqueueSecondary(retry.DeleteOne[M]{Match: cond, OrderBy: orderBy}, secondary)
		}
	}
	return nil
}

func (t *MigrationTable[M]) DeleteMany(ctx context.Context, cond engine.Condition) ([]M, error) {
	_, primary, secondary := route(t.phases.Phase())
	old, err := t.tableFor(primary).DeleteMany(ctx, cond)
	if err != nil {
		return nil, err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).DeleteManyIgnoringOld(ctx, cond); serr != nil {
			t.enqueueSecondary(retry.DeleteMany[M]{Match: cond}, secondary)
		}
	}
	return old, nil
}

func (t *MigrationTable[M]) DeleteManyIgnoringOld(ctx context.Context, cond engine.Condition) error {
	_, primary, secondary := route(t.phases.Phase())
	if err := t.tableFor(primary).DeleteManyIgnoringOld(ctx, cond); err != nil {
		return err
	}
	if secondary != sideNone {
		if serr := t.tableFor(secondary).DeleteManyIgnoringOld(ctx, cond); serr != nil {
			t.enqueueSecondary(retry.DeleteMany[M]{Match: cond}, secondary)
		}
	}
	return nil
}

// Read-only operations never touch the secondary engine.

func (t *MigrationTable[M]) Find(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]M, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).Find(ctx, cond, orderBy, maxQueryMs)
}

func (t *MigrationTable[M]) FindPartial(ctx context.Context, fields []string, cond engine.Condition, orderBy []engine.SortPart, maxQueryMs int) ([]map[string]any, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).FindPartial(ctx, fields, cond, orderBy, maxQueryMs)
}

func (t *MigrationTable[M]) Count(ctx context.Context, cond engine.Condition) (int, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).Count(ctx, cond)
}

func (t *MigrationTable[M]) GroupCount(ctx context.Context, groupBy string, cond engine.Condition) (map[string]int, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).GroupCount(ctx, groupBy, cond)
}

func (t *MigrationTable[M]) Aggregate(ctx context.Context, cond engine.Condition, aggregate, property string) (float64, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).Aggregate(ctx, cond, aggregate, property)
}

func (t *MigrationTable[M]) GroupAggregate(ctx context.Context, groupBy string, cond engine.Condition, aggregate, property string) (map[string]float64, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).GroupAggregate(ctx, groupBy, cond, aggregate, property)
}

func (t *MigrationTable[M]) FindSimilar(ctx context.Context, embedding []float32, field string, maxResults int) ([]M, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).FindSimilar(ctx, embedding, field, maxResults)
}

func (t *MigrationTable[M]) FindSimilarSparse(ctx context.Context, terms map[string]float32, field string, maxResults int) ([]M, error) {
	read, _, _ := route(t.phases.Phase())
	return t.tableFor(read).FindSimilarSparse(ctx, terms, field, maxResults)
}

var _ engine.Table[struct{}] = (*MigrationTable[struct{}])(nil)

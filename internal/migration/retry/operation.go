// Package retry implements the bounded, single-worker retry queue that
// replays failed secondary-engine writes with exponential backoff,
// dropping the oldest item when the queue is full.
//
// Operations are replayed verbatim, with no idempotency guard. A
// modification that is not naturally idempotent (an increment, say)
// can apply twice if a write the queue saw as failed had in fact
// landed; making replayed writes safe to repeat is the caller's
// responsibility.
package retry

import (
	"context"

	"github.com/hyperengineering/migrant/internal/engine"
)

// Operation is a tagged union of every write MigrationTable can issue
// against a secondary engine. It captures exactly the arguments needed
// to faithfully replay the write later, independent of whatever
// result the primary engine produced when the write first ran.
type Operation[M any] interface {
	// Apply replays the operation against table.
	Apply(ctx context.Context, table engine.Table[M]) error
	// Kind names the operation for logging and metrics.
	Kind() string
}

// Insert replays Table.Insert for a single record the primary engine
// already assigned defaults (IDs, timestamps) for.
type Insert[M any] struct {
	Record M
}

func (o Insert[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	_, err := table.Insert(ctx, []M{o.Record})
	return err
}
func (o Insert[M]) Kind() string { return "insert" }

// Replace replays Table.ReplaceOneIgnoringResult.
type Replace[M any] struct {
	Match       engine.Condition
	Replacement M
	OrderBy     []engine.SortPart
}

func (o Replace[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.ReplaceOneIgnoringResult(ctx, o.Match, o.Replacement, o.OrderBy)
}
func (o Replace[M]) Kind() string { return "replace" }

// Upsert replays Table.UpsertOneIgnoringResult.
type Upsert[M any] struct {
	Match  engine.Condition
	Mod    engine.Modification
	Record M
}

func (o Upsert[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.UpsertOneIgnoringResult(ctx, o.Match, o.Mod, o.Record)
}
func (o Upsert[M]) Kind() string { return "upsert" }

// UpdateOne replays Table.UpdateOneIgnoringResult.
type UpdateOne[M any] struct {
	Match   engine.Condition
	Mod     engine.Modification
	OrderBy []engine.SortPart
}

func (o UpdateOne[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.UpdateOneIgnoringResult(ctx, o.Match, o.Mod, o.OrderBy)
}
func (o UpdateOne[M]) Kind() string { return "update_one" }

// UpdateMany replays Table.UpdateManyIgnoringResult.
type UpdateMany[M any] struct {
	Match engine.Condition
	Mod   engine.Modification
}

func (o UpdateMany[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.UpdateManyIgnoringResult(ctx, o.Match, o.Mod)
}
func (o UpdateMany[M]) Kind() string { return "update_many" }

// DeleteOne replays Table.DeleteOneIgnoringOld.
type DeleteOne[M any] struct {
	Match   engine.Condition
	OrderBy []engine.SortPart
}

func (o DeleteOne[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.DeleteOneIgnoringOld(ctx, o.Match, o.OrderBy)
}
func (o DeleteOne[M]) Kind() string { return "delete_one" }

// DeleteMany replays Table.DeleteManyIgnoringOld.
type DeleteMany[M any] struct {
	Match engine.Condition
}

func (o DeleteMany[M]) Apply(ctx context.Context, table engine.Table[M]) error {
	return table.DeleteManyIgnoringOld(ctx, o.Match)
}
func (o DeleteMany[M]) Kind() string { return "delete_many" }

package table

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/migrant/internal/clock"
	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/memdb"
	"github.com/hyperengineering/migrant/internal/migration/retry"
)

type record struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var idPath = engine.NewPath[record]("id")

// testPhase is a settable PhaseSource for exercising phase flips
// mid-test without going through the migration package's registry.
type testPhase struct {
	mu    sync.Mutex
	phase Phase
}

func newTestPhase(p Phase) *testPhase { return &testPhase{phase: p} }

func (p *testPhase) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *testPhase) set(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// failingTable wraps an engine.Table[record] and forces Insert,
// ReplaceOneIgnoringResult, UpdateManyIgnoringResult and
// DeleteOneIgnoringOld to fail while failing is true (other methods
// pass through), so tests can force a MigrationTable
// down the enqueue-on-secondary-failure path.
type failingTable struct {
	engine.Table[record]
	mu      sync.Mutex
	failing bool
}

func (f *failingTable) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *failingTable) shouldFail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failing
}

var errForced = errors.New("forced failure")

func (f *failingTable) Insert(ctx context.Context, models []record) ([]record, error) {
	if f.shouldFail() {
		return nil, errForced
	}
	return f.Table.Insert(ctx, models)
}

func (f *failingTable) ReplaceOneIgnoringResult(ctx context.Context, cond engine.Condition, model record, orderBy []engine.SortPart) error {
	if f.shouldFail() {
		return errForced
	}
	return f.Table.ReplaceOneIgnoringResult(ctx, cond, model, orderBy)
}

func (f *failingTable) UpdateManyIgnoringResult(ctx context.Context, cond engine.Condition, mod engine.Modification) error {
	if f.shouldFail() {
		return errForced
	}
	return f.Table.UpdateManyIgnoringResult(ctx, cond, mod)
}

func (f *failingTable) DeleteOneIgnoringOld(ctx context.Context, cond engine.Condition, orderBy []engine.SortPart) error {
	if f.shouldFail() {
		return errForced
	}
	return f.Table.DeleteOneIgnoringOld(ctx, cond, orderBy)
}

// fakeClock is a manually-advanced clock.Clock, mirroring the retry
// package's own test helper, for deterministic drainDue timing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
func (c *fakeClock) NewTimer(d time.Duration) clock.Timer {
	panic("not used by the retry queue's Now-based scheduling")
}

func newHarness(t *testing.T, phase Phase) (*MigrationTable[record], *testPhase, *failingTable, *failingTable, *retry.Queue[record]) {
	t.Helper()
	sourceDB := memdb.New[record]()
	targetDB := memdb.New[record]()
	sourceTbl, err := sourceDB.Table(context.Background(), "widgets")
	if err != nil {
		t.Fatalf("source Table() error = %v", err)
	}
	targetTbl, err := targetDB.Table(context.Background(), "widgets")
	if err != nil {
		t.Fatalf("target Table() error = %v", err)
	}
	source := &failingTable{Table: sourceTbl}
	target := &failingTable{Table: targetTbl}

	fc := &fakeClock{now: time.Unix(0, 0)}
	rq := retry.New[record]("widgets", retry.Config{Clock: fc, InitialBackoff: time.Millisecond})

	ph := newTestPhase(phase)
	mt := New[record]("widgets", ph, source, target, rq)
	return mt, ph, source, target, rq
}

func TestSourceOnly_NeverTouchesTarget(t *testing.T) {
	mt, _, _, target, _ := newHarness(t, SourceOnly)
	target.setFailing(true) // would error if MigrationTable ever called it

	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := mt.Find(context.Background(), engine.Always(), nil, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Find() = (%v, %v), want one row read from source", got, err)
	}
}

func TestTargetOnly_NeverTouchesSource(t *testing.T) {
	mt, _, source, _, _ := newHarness(t, TargetOnly)
	source.setFailing(true)

	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := mt.Find(context.Background(), engine.Always(), nil, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Find() = (%v, %v), want one row read from target", got, err)
	}
}

func TestDualWriteReadSource_WritesBothReadsSource(t *testing.T) {
	mt, _, _, target, _ := newHarness(t, DualWriteReadSource)

	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := target.Table.Find(context.Background(), engine.Always(), nil, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("target Find() = (%v, %v), want dual write to have reached target", got, err)
	}

	read, err := mt.Find(context.Background(), engine.Always(), nil, 0)
	if err != nil || len(read) != 1 {
		t.Fatalf("Find() = (%v, %v), want read routed to source", read, err)
	}
}

func TestDualWriteReadTarget_WritesBothReadsTarget(t *testing.T) {
	mt, _, source, _, _ := newHarness(t, DualWriteReadTarget)

	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := source.Table.Find(context.Background(), engine.Always(), nil, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("source Find() = (%v, %v), want dual write to have reached source", got, err)
	}
}

// TestRetryReplaysAgainstCorrectEngineAfterPhaseFlip proves that a
// secondary-write failure enqueued while in DualWriteReadSource (secondary
// = target) is replayed against target, while one enqueued after flipping
// to DualWriteReadTarget (secondary = source) is replayed against source —
// never against whichever engine happened to be secondary first.
func TestRetryReplaysAgainstCorrectEngineAfterPhaseFlip(t *testing.T) {
	mt, ph, source, target, rq := newHarness(t, DualWriteReadSource)

	// Phase 1: secondary is target. Force it to fail so the write is queued.
	target.setFailing(true)
	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	target.setFailing(false)

	// Flip phase: secondary is now source. Force it to fail too.
	ph.set(DualWriteReadTarget)
	source.setFailing(true)
	if _, err := mt.Insert(context.Background(), []record{{ID: "b", Name: "two"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	source.setFailing(false)

	drainQueue(t, rq)

	targetRows, err := target.Table.Find(context.Background(), engine.Equal(idPath, "a"), nil, 0)
	if err != nil || len(targetRows) != 1 {
		t.Fatalf("target Find(a) = (%v, %v), want the first retry replayed against target", targetRows, err)
	}

	sourceRows, err := source.Table.Find(context.Background(), engine.Equal(idPath, "b"), nil, 0)
	if err != nil || len(sourceRows) != 1 {
		t.Fatalf("source Find(b) = (%v, %v), want the second retry replayed against source", sourceRows, err)
	}

	// Source holds "a" and target holds "b" only from their primary
	// writes; a retry replayed against the wrong engine would insert a
	// second copy there.
	if rows, _ := source.Table.Find(context.Background(), engine.Equal(idPath, "a"), nil, 0); len(rows) != 1 {
		t.Errorf("source has %d copies of record %q, want 1 (retry must target target engine)", len(rows), "a")
	}
	if rows, _ := target.Table.Find(context.Background(), engine.Equal(idPath, "b"), nil, 0); len(rows) != 1 {
		t.Errorf("target has %d copies of record %q, want 1 (retry must target source engine)", len(rows), "b")
	}
}

// drainQueue starts rq's worker, waits for every pending item to be
// replayed (or the deadline to pass), then stops it.
func drainQueue(t *testing.T, rq *retry.Queue[record]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rq.Start(ctx)
	defer rq.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rq.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := rq.PendingCount(); got != 0 {
		t.Fatalf("PendingCount() = %d after drain, want 0", got)
	}
}

func TestUpdateManyPropagatesToSecondary(t *testing.T) {
	mt, _, _, target, _ := newHarness(t, DualWriteReadSource)
	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := mt.UpdateMany(context.Background(), engine.Equal(idPath, "a"), engine.Assign(record{ID: "a", Name: "renamed"})); err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}

	got, err := target.Table.Find(context.Background(), engine.Equal(idPath, "a"), nil, 0)
	if err != nil || len(got) != 1 || got[0].Name != "renamed" {
		t.Fatalf("target Find(a) = (%v, %v), want renamed row replicated to target", got, err)
	}
}

func TestDeleteOnePropagatesToSecondary(t *testing.T) {
	mt, _, _, target, _ := newHarness(t, DualWriteReadSource)
	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if _, err := mt.DeleteOne(context.Background(), engine.Equal(idPath, "a"), nil); err != nil {
		t.Fatalf("DeleteOne() error = %v", err)
	}

	got, err := target.Table.Find(context.Background(), engine.Equal(idPath, "a"), nil, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("target Find(a) = (%v, %v), want row deleted from target", got, err)
	}
}

func TestEnqueueSecondary_NilRetryQueueIsNoop(t *testing.T) {
	sourceDB := memdb.New[record]()
	targetDB := memdb.New[record]()
	sourceTbl, _ := sourceDB.Table(context.Background(), "widgets")
	targetTbl, _ := targetDB.Table(context.Background(), "widgets")
	source := &failingTable{Table: sourceTbl}
	target := &failingTable{Table: targetTbl}
	target.setFailing(true)

	ph := newTestPhase(DualWriteReadSource)
	mt := New[record]("widgets", ph, source, target, nil)

	if _, err := mt.Insert(context.Background(), []record{{ID: "a", Name: "one"}}); err != nil {
		t.Fatalf("Insert() error = %v, want primary success despite nil retry queue", err)
	}
}

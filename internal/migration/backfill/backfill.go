// Package backfill implements the resumable, paged copy from a source
// table to a target table that runs alongside live dual-writes. Rows
// already touched by a dual-write race with the backfill's own upsert
// of the same row resolve last-writer-wins; this is an accepted
// tradeoff rather than adding row-level locking.
package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperengineering/migrant/internal/engine"
)

// State is the lifecycle state of a Job.
type State string

const (
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

var (
	// ErrAlreadyRunning is returned by Start when the job is already
	// active.
	ErrAlreadyRunning = errors.New("backfill: already running")
	// ErrNotRunning is returned by Pause/Cancel when no copy is active.
	ErrNotRunning = errors.New("backfill: not running")
)

// RecordError captures a single row's copy failure without aborting
// the whole job — one bad row shouldn't block the rest of the table.
type RecordError struct {
	Key   string
	Error string
	At    time.Time
}

// Status is a point-in-time snapshot of a Job's progress.
type Status struct {
	State         State
	RecordsCopied int64
	ErrorCount    int64
	PagesCopied   int64
	Errors        []RecordError
	Cursor        json.RawMessage
	StartedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   time.Time
}

// Config tunes paging and concurrency.
type Config[M any] struct {
	IDField     engine.Path[M]
	PageSize    int
	Concurrency int // concurrent row upserts within a page
	// MaxErrorsBeforePause pauses the job (checkpoint preserved, resumable)
	// once this many row errors have accumulated. 0 means unlimited.
	MaxErrorsBeforePause int
	// FailFast makes the first row error terminal (State=Failed) rather
	// than tallying toward MaxErrorsBeforePause. The zero value (false)
	// is the default of continuing past row errors.
	FailFast bool
	// MaxErrorsToRetain caps how many RecordErrors Status.Errors keeps,
	// independent of ErrorCount which keeps counting past the cap.
	MaxErrorsToRetain int
	// DelayBetweenBatches paces the copy loop between pages, trading
	// throughput for headroom on a source engine under live traffic.
	DelayBetweenBatches time.Duration
}

func (c Config[M]) withDefaults() Config[M] {
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxErrorsToRetain <= 0 {
		c.MaxErrorsToRetain = 100
	}
	return c
}

// CheckpointStore persists and restores a job's resume cursor, so a
// process restart resumes a backfill instead of restarting it.
type CheckpointStore interface {
	Save(ctx context.Context, table string, cursor json.RawMessage) error
	Load(ctx context.Context, table string) (json.RawMessage, bool, error)
	Clear(ctx context.Context, table string) error
}

// Job runs one table's backfill. It is safe for concurrent use by the
// admin API and the background loop driving it.
type Job[M any] struct {
	table      string
	source     engine.Table[M]
	target     engine.Table[M]
	cfg        Config[M]
	checkpoint CheckpointStore
	idOf       func(M) (any, error)

	mu       sync.Mutex
	status   Status
	pauseCh  chan struct{}
	cancel   context.CancelFunc
	doneCh   chan struct{}
	finalErr error
}

// New builds a backfill job. idOf extracts the comparable cursor value
// (typically a primary key) from a record of type M.
func New[M any](table string, source, target engine.Table[M], cfg Config[M], checkpoint CheckpointStore, idOf func(M) (any, error)) *Job[M] {
	return &Job[M]{
		table:      table,
		source:     source,
		target:     target,
		cfg:        cfg.withDefaults(),
		checkpoint: checkpoint,
		idOf:       idOf,
	}
}

// Status returns a snapshot of the job's current progress.
func (j *Job[M]) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.status
	s.Errors = append([]RecordError(nil), j.status.Errors...)
	return s
}

// Start launches the backfill in the background. It returns
// immediately; use AwaitCompletion to block until done.
func (j *Job[M]) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.status.State == StateRunning {
		j.mu.Unlock()
		return ErrAlreadyRunning
	}

	var cursor json.RawMessage
	if j.checkpoint != nil {
		if saved, ok, err := j.checkpoint.Load(ctx, j.table); err == nil && ok {
			cursor = saved
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.pauseCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.status = Status{State: StateRunning, Cursor: cursor, StartedAt: time.Now(), UpdatedAt: time.Now()}
	j.mu.Unlock()

	go j.run(runCtx)
	return nil
}

// Pause stops copying after the in-flight page completes, preserving
// the resume cursor. Resume continues from where it left off.
func (j *Job[M]) Pause() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.State != StateRunning {
		return ErrNotRunning
	}
	j.status.State = StatePaused
	close(j.pauseCh)
	return nil
}

// Resume continues a paused job from its saved cursor.
func (j *Job[M]) Resume(ctx context.Context) error {
	j.mu.Lock()
	if j.status.State != StatePaused {
		j.mu.Unlock()
		return ErrNotRunning
	}
	cursor := j.status.Cursor
	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.pauseCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.status.State = StateRunning
	j.status.Cursor = cursor
	j.mu.Unlock()

	go j.run(runCtx)
	return nil
}

// Cancel stops the job permanently; the checkpoint is left in place so
// a fresh Start resumes rather than restarts. Callers that want a
// clean restart should clear the checkpoint store themselves.
func (j *Job[M]) Cancel() error {
	j.mu.Lock()
	if j.status.State != StateRunning && j.status.State != StatePaused {
		j.mu.Unlock()
		return ErrNotRunning
	}
	wasPaused := j.status.State == StatePaused
	j.status.State = StateCancelled
	cancel := j.cancel
	j.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasPaused {
		// run() isn't active to observe cancellation; nothing to await.
		return nil
	}
	return nil
}

// AwaitCompletion blocks until the current run of the job stops or ctx
// is cancelled. A run stops on a terminal state (completed, cancelled,
// failed) and also when the job pauses, in which case AwaitCompletion
// returns nil with the job still resumable; it does not wait across a
// pause for a later Resume to finish.
func (j *Job[M]) AwaitCompletion(ctx context.Context) error {
	j.mu.Lock()
	done := j.doneCh
	state := j.status.State
	j.mu.Unlock()

	if state != StateRunning || done == nil {
		return nil
	}
	select {
	case <-done:
		return j.finalErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job[M]) run(ctx context.Context) {
	defer close(j.doneCh)

	for {
		select {
		case <-ctx.Done():
			j.finish(StateCancelled, nil)
			return
		case <-j.pauseCh:
			return
		default:
		}

		j.mu.Lock()
		errorsBefore := j.status.ErrorCount
		j.mu.Unlock()

		n, lastKey, err := j.copyPage(ctx)
		if err != nil {
			slog.Error("backfill page failed",
				"component", "migration",
				"worker", "backfill",
				"table", j.table,
				"error", err)
			j.finish(StateFailed, err)
			return
		}
		if n == 0 {
			j.finish(StateCompleted, nil)
			return
		}

		j.mu.Lock()
		// Rows whose copy failed were tallied in ErrorCount by copyRow and
		// are not counted as copied.
		j.status.RecordsCopied += int64(n) - (j.status.ErrorCount - errorsBefore)
		j.status.PagesCopied++
		j.status.UpdatedAt = time.Now()
		if lastKey != nil {
			j.status.Cursor = lastKey
		}
		cursor := j.status.Cursor
		erroredThisPage := j.status.ErrorCount > errorsBefore
		tooManyErrors := j.cfg.MaxErrorsBeforePause > 0 && j.status.ErrorCount >= int64(j.cfg.MaxErrorsBeforePause)
		j.mu.Unlock()

		if j.checkpoint != nil && lastKey != nil {
			if err := j.checkpoint.Save(ctx, j.table, cursor); err != nil {
				slog.Warn("failed to persist backfill checkpoint",
					"component", "migration",
					"table", j.table,
					"error", err)
			}
		}

		// FailFast (continueOnError=false) makes any row
		// error terminal; otherwise errors accumulate toward
		// MaxErrorsBeforePause, which pauses (resumable) rather than fails.
		if j.cfg.FailFast && erroredThisPage {
			j.finish(StateFailed, fmt.Errorf("backfill: row error with FailFast enabled"))
			return
		}
		if tooManyErrors {
			j.mu.Lock()
			j.status.State = StatePaused
			j.status.UpdatedAt = time.Now()
			j.mu.Unlock()
			return
		}

		if j.cfg.DelayBetweenBatches > 0 {
			select {
			case <-ctx.Done():
				j.finish(StateCancelled, nil)
				return
			case <-time.After(j.cfg.DelayBetweenBatches):
			}
		}
	}
}

func (j *Job[M]) finish(state State, err error) {
	j.mu.Lock()
	j.status.State = state
	now := time.Now()
	j.status.UpdatedAt = now
	if state == StateCompleted {
		j.status.CompletedAt = now
	}
	j.finalErr = err
	j.mu.Unlock()

	if state == StateCompleted && j.checkpoint != nil {
		_ = j.checkpoint.Clear(context.Background(), j.table)
	}
}

// copyPage fetches the next page from source ordered by IDField,
// upserts each row into target with bounded concurrency, and returns
// the page size and the last row's key for checkpointing.
func (j *Job[M]) copyPage(ctx context.Context) (int, json.RawMessage, error) {
	j.mu.Lock()
	cursor := j.status.Cursor
	j.mu.Unlock()

	cond := engine.Always()
	if len(cursor) > 0 {
		var v any
		if err := json.Unmarshal(cursor, &v); err != nil {
			return 0, nil, fmt.Errorf("backfill: decode cursor: %w", err)
		}
		cond = engine.GreaterThan[M](j.cfg.IDField, v)
	}

	rows, err := j.source.Find(ctx, cond, []engine.SortPart{engine.Sort[M](j.cfg.IDField, engine.Ascending)}, 0)
	if err != nil {
		return 0, nil, fmt.Errorf("backfill: source scan: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil, nil
	}
	if len(rows) > j.cfg.PageSize {
		rows = rows[:j.cfg.PageSize]
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			j.copyRow(gctx, row)
			return nil
		})
	}
	_ = g.Wait() // row failures are recorded, not propagated; see copyRow.

	last := rows[len(rows)-1]
	key, err := j.idOf(last)
	if err != nil {
		return len(rows), nil, fmt.Errorf("backfill: extract key from last row: %w", err)
	}
	keyRaw, err := json.Marshal(key)
	if err != nil {
		return len(rows), nil, fmt.Errorf("backfill: marshal cursor: %w", err)
	}
	return len(rows), keyRaw, nil
}

// copyRow upserts a single row, recording (not propagating) failure so
// one bad record doesn't abort the page.
func (j *Job[M]) copyRow(ctx context.Context, row M) {
	key, err := j.idOf(row)
	if err != nil {
		j.recordError("", err)
		return
	}
	cond := engine.Equal[M](j.cfg.IDField, key)
	if err := j.target.UpsertOneIgnoringResult(ctx, cond, engine.Assign(row), row); err != nil {
		j.recordError(fmt.Sprintf("%v", key), err)
	}
}

func (j *Job[M]) recordError(key string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status.ErrorCount++
	if len(j.status.Errors) >= j.cfg.MaxErrorsToRetain {
		return
	}
	j.status.Errors = append(j.status.Errors, RecordError{Key: key, Error: err.Error(), At: time.Now()})
}

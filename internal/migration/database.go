package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/migration/backfill"
	"github.com/hyperengineering/migrant/internal/migration/retry"
	"github.com/hyperengineering/migrant/internal/migration/table"
	"github.com/hyperengineering/migrant/internal/migration/verify"
)

// tableEntry bundles everything the facade caches per table name: the
// routed MigrationTable, its secondary-write retry queue, and its
// backfill job (nil until a backfill has been started at least once).
type tableEntry[M any] struct {
	migrationTable *table.MigrationTable[M]
	retryQueue     *retry.Queue[M]
	backfillJob    *backfill.Job[M]
}

// Config configures a Database's retry and backfill defaults.
type Config[M any] struct {
	RetryQueue retry.Config
	Backfill   backfill.Config[M]
	IDField    engine.Path[M]
	// IDOf extracts the primary key from a record, used by backfill and
	// verify. Required.
	IDOf func(M) (any, error)
	// Checkpoint persists backfill resume cursors across restarts. Nil
	// disables checkpointing (a restart always re-backfills from zero).
	Checkpoint backfill.CheckpointStore
	// OnRetryExhausted is called, per table, whenever a secondary write
	// exhausts its retry budget — the only caller-visible trace of a
	// secondary-engine failure. Nil disables alerting beyond the
	// queue's own logging.
	OnRetryExhausted func(table, kind string, err error)
}

// Database is the top-level migration facade: it mints phase-routed
// MigrationTables on demand, owns each table's retry queue and
// backfill job, and aggregates health across both engines.
//
// A sync.Map keyed cache plus singleflight ensures concurrent
// first-time Table(name) calls for the same name construct exactly
// one entry instead of racing.
type Database[M any] struct {
	source engine.Database[M]
	target engine.Database[M]
	phases *PhaseRegistry
	cfg    Config[M]

	tables sync.Map // string -> *tableEntry[M]
	group  singleflight.Group

	mu        sync.Mutex
	closed    bool
	connected bool
}

// New builds a Database wrapping the given source and target engines.
func New[M any](source, target engine.Database[M], phases *PhaseRegistry, cfg Config[M]) *Database[M] {
	return &Database[M]{source: source, target: target, phases: phases, cfg: cfg}
}

// Phases returns the phase registry backing this database, so callers
// (the admin API, the settings URL handler) can change phases without
// going through the facade for every operation.
func (d *Database[M]) Phases() *PhaseRegistry { return d.phases }

func (d *Database[M]) idOfString() func(M) (string, error) {
	return func(m M) (string, error) {
		v, err := d.cfg.IDOf(m)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%v", v), nil
	}
}

// Table returns the phase-routed MigrationTable for name, constructing
// its underlying source/target tables, retry queue, and empty backfill
// slot exactly once.
func (d *Database[M]) Table(ctx context.Context, name string) (*table.MigrationTable[M], error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if v, ok := d.tables.Load(name); ok {
		return v.(*tableEntry[M]).migrationTable, nil
	}

	v, err, _ := d.group.Do(name, func() (any, error) {
		if v, ok := d.tables.Load(name); ok {
			return v, nil
		}
		sourceTable, err := d.source.Table(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("migration: open source table %q: %w", name, err)
		}
		targetTable, err := d.target.Table(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("migration: open target table %q: %w", name, err)
		}

		rqCfg := d.cfg.RetryQueue
		if d.cfg.OnRetryExhausted != nil {
			alert := d.cfg.OnRetryExhausted
			rqCfg.OnExhausted = func(kind string, err error) { alert(name, kind, err) }
		}
		rq := retry.New[M](name, rqCfg)
		mt := table.New[M](name, tablePhase{registry: d.phases, name: name}, sourceTable, targetTable, rq)
		entry := &tableEntry[M]{migrationTable: mt, retryQueue: rq}
		d.tables.Store(name, entry)

		d.mu.Lock()
		connected := d.connected
		d.mu.Unlock()
		if connected {
			rq.Start(ctx)
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tableEntry[M]).migrationTable, nil
}

func (d *Database[M]) entry(name string) (*tableEntry[M], error) {
	v, ok := d.tables.Load(name)
	if !ok {
		return nil, ErrTableNotFound
	}
	return v.(*tableEntry[M]), nil
}

// StartBackfill begins (or resumes, if a checkpoint exists) copying
// name's rows from source to target. The table must have been opened
// via Table first, since the backfill job is kept in that table's
// entry; otherwise ErrTableNotFound is returned.
func (d *Database[M]) StartBackfill(ctx context.Context, name string) error {
	e, err := d.entry(name)
	if err != nil {
		return err
	}
	if e.backfillJob == nil {
		sourceTable, err := d.source.Table(ctx, name)
		if err != nil {
			return err
		}
		targetTable, err := d.target.Table(ctx, name)
		if err != nil {
			return err
		}
		job := backfill.New[M](name, sourceTable, targetTable, d.cfg.Backfill, d.cfg.Checkpoint, d.cfg.IDOf)
		d.mu.Lock()
		e.backfillJob = job
		d.mu.Unlock()
	}
	return e.backfillJob.Start(ctx)
}

// PauseBackfill pauses name's active backfill.
func (d *Database[M]) PauseBackfill(name string) error {
	e, err := d.entry(name)
	if err != nil {
		return err
	}
	if e.backfillJob == nil {
		return backfill.ErrNotRunning
	}
	return e.backfillJob.Pause()
}

// ResumeBackfill resumes name's paused backfill.
func (d *Database[M]) ResumeBackfill(ctx context.Context, name string) error {
	e, err := d.entry(name)
	if err != nil {
		return err
	}
	if e.backfillJob == nil {
		return backfill.ErrNotRunning
	}
	return e.backfillJob.Resume(ctx)
}

// CancelBackfill cancels name's backfill.
func (d *Database[M]) CancelBackfill(name string) error {
	e, err := d.entry(name)
	if err != nil {
		return err
	}
	if e.backfillJob == nil {
		return backfill.ErrNotRunning
	}
	return e.backfillJob.Cancel()
}

// BackfillStatus returns name's backfill progress.
func (d *Database[M]) BackfillStatus(name string) (backfill.Status, error) {
	e, err := d.entry(name)
	if err != nil {
		return backfill.Status{}, err
	}
	if e.backfillJob == nil {
		return backfill.Status{}, backfill.ErrNotRunning
	}
	return e.backfillJob.Status(), nil
}

// VerifySync compares name's source and target tables for drift using
// the database's default verify sampling. Callers that need a custom
// sample size or diff cap should use VerifySyncWithConfig instead.
func (d *Database[M]) VerifySync(ctx context.Context, name string) (verify.Result, error) {
	return d.VerifySyncWithConfig(ctx, name, verify.Config[M]{})
}

// VerifySyncWithConfig is VerifySync with caller-controlled sampling.
func (d *Database[M]) VerifySyncWithConfig(ctx context.Context, name string, cfg verify.Config[M]) (verify.Result, error) {
	sourceTable, err := d.source.Table(ctx, name)
	if err != nil {
		return verify.Result{}, err
	}
	targetTable, err := d.target.Table(ctx, name)
	if err != nil {
		return verify.Result{}, err
	}
	cfg.IDField = d.cfg.IDField
	v := verify.New[M](sourceTable, targetTable, cfg, d.idOfString())
	return v.Verify(ctx)
}

// TableStatus reports per-table operational state: phase, retry queue
// depth, and backfill progress if any.
type TableStatus struct {
	Name           string
	Phase          Phase
	RetryPending   int
	RetrySucceeded int64
	RetryFailed    int64
	RetryDropped   int64
	Backfill       *backfill.Status
}

// GetTableStatus returns the status of a single opened table.
func (d *Database[M]) GetTableStatus(name string) (TableStatus, error) {
	e, err := d.entry(name)
	if err != nil {
		return TableStatus{}, err
	}
	st := TableStatus{
		Name:           name,
		Phase:          d.phases.Get(name),
		RetryPending:   e.retryQueue.PendingCount(),
		RetrySucceeded: e.retryQueue.SuccessCount(),
		RetryFailed:    e.retryQueue.FailedCount(),
		RetryDropped:   e.retryQueue.DroppedCount(),
	}
	if e.backfillJob != nil {
		s := e.backfillJob.Status()
		st.Backfill = &s
	}
	return st, nil
}

// GetStatus returns the status of every table opened so far.
func (d *Database[M]) GetStatus() []TableStatus {
	var out []TableStatus
	d.tables.Range(func(key, _ any) bool {
		name := key.(string)
		if st, err := d.GetTableStatus(name); err == nil {
			out = append(out, st)
		}
		return true
	})
	return out
}

// Connect starts both engines and every table's retry queue worker.
func (d *Database[M]) Connect(ctx context.Context) error {
	if err := d.source.Connect(ctx); err != nil {
		return fmt.Errorf("migration: connect source: %w", err)
	}
	if err := d.target.Connect(ctx); err != nil {
		return fmt.Errorf("migration: connect target: %w", err)
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	d.tables.Range(func(_, v any) bool {
		v.(*tableEntry[M]).retryQueue.Start(ctx)
		return true
	})
	return nil
}

// Disconnect stops every retry queue's worker, waiting for it to exit
// (items still pending are not replayed), then disconnects both
// engines. Running backfill jobs are not stopped by Disconnect. Errors are aggregated via multierr so a single
// engine's failure doesn't mask the other's.
func (d *Database[M]) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	var err error
	d.tables.Range(func(_, v any) bool {
		if e := v.(*tableEntry[M]).retryQueue.StopGracefully(ctx); e != nil {
			err = multierr.Append(err, e)
		}
		return true
	})
	if e := d.source.Disconnect(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("migration: disconnect source: %w", e))
	}
	if e := d.target.Disconnect(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("migration: disconnect target: %w", e))
	}
	return err
}

// HealthCheck aggregates the source and target engines' health,
// reporting the worse of the two per engine.Worse's Error > Urgent >
// Warning > OK ranking.
func (d *Database[M]) HealthCheck(ctx context.Context) (engine.Health, error) {
	sourceHealth, err := d.source.HealthCheck(ctx)
	if err != nil {
		return engine.Health{}, fmt.Errorf("migration: source health check: %w", err)
	}
	targetHealth, err := d.target.HealthCheck(ctx)
	if err != nil {
		return engine.Health{}, fmt.Errorf("migration: target health check: %w", err)
	}

	level := engine.Worse(sourceHealth.Level, targetHealth.Level)
	msg := fmt.Sprintf("phase: %s; source: %s; target: %s", d.phases.Default(), sourceHealth.Message, targetHealth.Message)
	return engine.Health{Level: level, Message: msg}, nil
}

// healthCheckLoop polls HealthCheck at the faster of the two engines'
// requested frequencies and calls onChange whenever the health level
// changes. It blocks until ctx is cancelled.
func (d *Database[M]) healthCheckLoop(ctx context.Context, onChange func(engine.Health)) {
	interval := d.healthCheckInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last engine.HealthLevel = -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h, err := d.HealthCheck(ctx)
			if err != nil {
				continue
			}
			if h.Level != last {
				last = h.Level
				if onChange != nil {
					onChange(h)
				}
			}
		}
	}
}

func (d *Database[M]) healthCheckInterval() time.Duration {
	best := time.Duration(0)
	if enabled, ms := d.source.HealthCheckFrequency(); enabled {
		best = shorterNonZero(best, time.Duration(ms)*time.Millisecond)
	}
	if enabled, ms := d.target.HealthCheckFrequency(); enabled {
		best = shorterNonZero(best, time.Duration(ms)*time.Millisecond)
	}
	return best
}

func shorterNonZero(a, b time.Duration) time.Duration {
	if a == 0 {
		return b
	}
	if b == 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

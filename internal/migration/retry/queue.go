package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/hyperengineering/migrant/internal/clock"
	"github.com/hyperengineering/migrant/internal/engine"
)

// ErrQueueFull is returned by Enqueue when DropPolicy is DropNewest and
// the queue is already at MaxSize.
var ErrQueueFull = errors.New("retry: queue full")

// DropPolicy decides what happens when Enqueue is called on a full
// queue. DropOldest is the default: an item
// that has been failing the longest is the least likely to still be
// relevant, and dropping it keeps the queue draining forward instead
// of wedging on a poison item.
type DropPolicy int

const (
	DropOldest DropPolicy = iota
	DropNewest
)

// Config tunes queue capacity and backoff shape.
type Config struct {
	MaxSize        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    uint64 // 0 defaults to 3 via withDefaults
	DropPolicy     DropPolicy
	Clock          clock.Clock
	PollInterval   time.Duration // how often the worker wakes to check due items
	// OnExhausted is invoked, out-of-band from any caller, the moment an
	// item's retries are exhausted — the only operational alert a
	// dropped secondary write gets. Operation is type-erased to its Kind() tag rather
	// than the full Operation[M] value, since Config is shared across
	// every MigrationTable[M] a process opens and cannot itself carry a
	// type parameter. A panic in the callback is recovered and logged,
	// never rethrown, so a broken alert sink can't take down the
	// worker goroutine.
	OnExhausted func(kind string, err error)
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 10000
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	return c
}

func (c Config) newBackoff() goretry.Backoff {
	b := goretry.NewConstant(c.InitialBackoff)
	eb, err := goretry.NewExponential(c.InitialBackoff)
	if err == nil {
		b = eb
	}
	b = goretry.WithCappedDuration(c.MaxBackoff, b)
	if c.MaxAttempts > 0 {
		// MaxAttempts counts every attempt, the first included, so the
		// backoff allows one retry fewer.
		b = goretry.WithMaxRetries(c.MaxAttempts-1, b)
	}
	return b
}

// item is a queued Operation plus its retry bookkeeping. target is the
// engine the operation replays against — captured per item, not fixed
// at Queue construction, because which engine is "secondary" for a
// write depends on the phase in effect when that write was dispatched
// (source in DualWriteReadTarget, target in DualWriteReadSource) and
// can differ between two items sitting in the same queue after a
// phase flip.
type item[M any] struct {
	op          Operation[M]
	target      engine.Table[M]
	backoff     goretry.Backoff
	nextAttempt time.Time
	attempts    int
	enqueuedAt  time.Time
}

// Queue is a bounded, single-worker retry queue for one table's
// secondary-engine writes. A single worker goroutine processes items
// serially in queue order, at the cost of throughput; an item whose
// replay fails is re-appended at the tail, so it replays after items
// enqueued behind it. The single worker is acceptable
// because the queue only carries the tail of writes the secondary
// missed, not steady-state traffic.
type Queue[M any] struct {
	cfg  Config
	name string // table name, for logging

	mu      sync.Mutex
	items   []*item[M]
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	succeeded int64
	failed    int64
	dropped   int64
}

// New creates a retry queue for name. The engine each enqueued
// operation replays against is supplied per-call to Enqueue, not fixed
// here, since it tracks whichever engine was the secondary at dispatch
// time.
func New[M any](name string, cfg Config) *Queue[M] {
	return &Queue[M]{
		cfg:  cfg.withDefaults(),
		name: name,
	}
}

// Enqueue adds op to the queue to be replayed against target,
// applying the configured drop policy if the queue is already at
// capacity.
func (q *Queue[M]) Enqueue(op Operation[M], target engine.Table[M]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.cfg.Clock.Now()
	it := &item[M]{
		op:          op,
		target:      target,
		backoff:     q.cfg.newBackoff(),
		nextAttempt: now,
		enqueuedAt:  now,
	}

	if len(q.items) >= q.cfg.MaxSize {
		switch q.cfg.DropPolicy {
		case DropNewest:
			q.dropped++
			return ErrQueueFull
		default: // DropOldest
			slog.Warn("retry queue full, dropping oldest operation",
				"component", "migration",
				"worker", "retry-queue",
				"table", q.name,
				"op", q.items[0].op.Kind())
			q.items = q.items[1:]
			q.dropped++
		}
	}
	q.items = append(q.items, it)
	return nil
}

// PendingCount returns the number of items awaiting replay.
func (q *Queue[M]) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SuccessCount returns the cumulative number of successful replays.
func (q *Queue[M]) SuccessCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.succeeded
}

// FailedCount returns the cumulative number of replays abandoned after
// MaxAttempts was exhausted.
func (q *Queue[M]) FailedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

// DroppedCount returns the cumulative number of items discarded by the
// drop policy due to queue capacity.
func (q *Queue[M]) DroppedCount() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Start launches the background worker. It is a no-op if already
// running. Stop or StopGracefully must be called to release the
// worker goroutine.
func (q *Queue[M]) Start(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
}

// Stop signals the worker to exit without waiting for it to drain
// in-flight work.
func (q *Queue[M]) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()
}

// StopGracefully signals the worker to exit and blocks until it has,
// or ctx is cancelled first.
func (q *Queue[M]) StopGracefully(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	done := q.doneCh
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[M]) run(ctx context.Context) {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.drainDue(ctx)
		}
	}
}

// drainDue replays items from the head of the queue while the head's
// backoff has elapsed, stopping at the first item that is not yet due.
// It reads the clock once per pass, so an item requeued mid-drain with
// a later nextAttempt is not popped again in the same pass.
func (q *Queue[M]) drainDue(ctx context.Context) {
	now := q.cfg.Clock.Now()
	for {
		it := q.popDue(now)
		if it == nil {
			return
		}
		q.attempt(ctx, it)
	}
}

func (q *Queue[M]) popDue(now time.Time) *item[M] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].nextAttempt.After(now) {
		return nil
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it
}

func (q *Queue[M]) attempt(ctx context.Context, it *item[M]) {
	err := it.op.Apply(ctx, it.target)
	it.attempts++
	if err == nil {
		q.mu.Lock()
		q.succeeded++
		q.mu.Unlock()
		return
	}

	delay, stop := it.backoff.Next()
	if stop {
		slog.Error("retry exhausted, dropping operation",
			"component", "migration",
			"worker", "retry-queue",
			"table", q.name,
			"op", it.op.Kind(),
			"attempts", it.attempts,
			"error", err)
		q.mu.Lock()
		q.failed++
		q.mu.Unlock()
		q.invokeOnExhausted(it.op.Kind(), err)
		return
	}

	slog.Warn("secondary write failed, requeued",
		"component", "migration",
		"worker", "retry-queue",
		"table", q.name,
		"op", it.op.Kind(),
		"attempts", it.attempts,
		"backoff", delay.String(),
		"error", err)

	it.nextAttempt = q.cfg.Clock.Now().Add(delay)
	q.mu.Lock()
	q.items = append(q.items, it)
	q.mu.Unlock()
}

// invokeOnExhausted calls the configured OnExhausted hook, recovering
// any panic so a misbehaving alert sink can't kill the worker.
func (q *Queue[M]) invokeOnExhausted(kind string, err error) {
	if q.cfg.OnExhausted == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("OnExhausted callback panicked",
				"component", "migration",
				"worker", "retry-queue",
				"table", q.name,
				"panic", r)
		}
	}()
	q.cfg.OnExhausted(kind, err)
}

// Package clock abstracts time so retry backoff can be tested without
// real sleeps. The backfill job reads the time package directly. The retry queue backs off on the
// order of milliseconds-to-seconds and its tests assert on backoff
// progression, so the indirection earns its keep here.
package clock

import "time"

// Clock is implemented by RealClock in production and a fake in tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer mirrors a subset of time.Timer. The retry queue schedules from
// Now alone and does not create timers.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Real is the production Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }
func (r *realTimer) Stop() bool          { return r.t.Stop() }

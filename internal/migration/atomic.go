package migration

import "sync/atomic"

// atomicPhase stores a Phase for lock-free reads from PhaseRegistry.Get
// on the hot path (every routed operation reads the phase once).
type atomicPhase struct {
	v atomic.Int64
}

func (a *atomicPhase) store(p Phase) { a.v.Store(int64(p)) }
func (a *atomicPhase) load() Phase   { return Phase(a.v.Load()) }

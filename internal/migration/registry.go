package migration

import "sync"

// PhaseRegistry holds the default migration phase plus any per-table
// overrides. Reads (Get) are lock-free on the common path via
// sync.Map; writes (Set) are serialized by mu so a burst of concurrent
// SetDefault/SetTable calls from the admin API can't interleave.
//
// Structured as an instance rather than a package-level singleton
// since a process may run more than one MigrationDatabase in tests.
type PhaseRegistry struct {
	mu        sync.Mutex
	overrides sync.Map // table name -> Phase
	def       atomicPhase
}

// NewPhaseRegistry returns a registry with the given default phase and
// no per-table overrides.
func NewPhaseRegistry(def Phase) *PhaseRegistry {
	r := &PhaseRegistry{}
	r.def.store(def)
	return r
}

// Default returns the registry's default phase.
func (r *PhaseRegistry) Default() Phase {
	return r.def.load()
}

// SetDefault changes the default phase. Tables with an explicit
// override are unaffected.
func (r *PhaseRegistry) SetDefault(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.def.store(p)
}

// Get returns the effective phase for table, falling back to the
// default when no override is set.
func (r *PhaseRegistry) Get(table string) Phase {
	if v, ok := r.overrides.Load(table); ok {
		return v.(Phase)
	}
	return r.Default()
}

// SetTable sets a per-table override, taking precedence over the
// default until ClearTable is called.
func (r *PhaseRegistry) SetTable(table string, p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides.Store(table, p)
}

// ClearTable removes a per-table override, reverting the table to the
// registry default.
func (r *PhaseRegistry) ClearTable(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides.Delete(table)
}

// HasOverride reports whether table has an explicit phase set.
func (r *PhaseRegistry) HasOverride(table string) bool {
	_, ok := r.overrides.Load(table)
	return ok
}

package migration

import "github.com/hyperengineering/migrant/internal/migration/table"

// tablePhase adapts a (*PhaseRegistry, table name) pair to
// table.PhaseSource, converting migration.Phase to table.Phase at the
// package boundary so the table package never imports migration.
type tablePhase struct {
	registry *PhaseRegistry
	name     string
}

func (t tablePhase) Phase() table.Phase {
	switch t.registry.Get(t.name) {
	case SourceOnly:
		return table.SourceOnly
	case DualWriteReadSource:
		return table.DualWriteReadSource
	case DualWriteReadTarget:
		return table.DualWriteReadTarget
	case TargetOnly:
		return table.TargetOnly
	default:
		return table.SourceOnly
	}
}

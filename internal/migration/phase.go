// Package migration implements the zero-downtime migration wrapper:
// phase-aware routing between a source and target engine, backfill,
// verification, and the top-level MigrationDatabase facade.
package migration

import "fmt"

// Phase is one of the four totally-ordered migration states governing
// read/write routing. Operators are expected to advance monotonically
// but nothing here enforces it — rollback to an earlier phase is a
// valid (if unusual) runtime transition.
type Phase int

const (
	// SourceOnly routes every read and write to the source engine; the
	// target is never touched.
	SourceOnly Phase = iota
	// DualWriteReadSource writes to both engines (source primary,
	// target secondary) and reads from source.
	DualWriteReadSource
	// DualWriteReadTarget writes to both engines (target primary,
	// source secondary) and reads from target.
	DualWriteReadTarget
	// TargetOnly routes every read and write to the target engine; the
	// source is never touched.
	TargetOnly
)

func (p Phase) String() string {
	switch p {
	case SourceOnly:
		return "SOURCE_ONLY"
	case DualWriteReadSource:
		return "DUAL_WRITE_READ_SOURCE"
	case DualWriteReadTarget:
		return "DUAL_WRITE_READ_TARGET"
	case TargetOnly:
		return "TARGET_ONLY"
	default:
		return fmt.Sprintf("UNKNOWN_PHASE(%d)", int(p))
	}
}

// ParsePhase parses one of the four canonical phase names. It is used
// by both the URL settings handler and the admin API/CLI, so error
// text stays consistent across entry points.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "SOURCE_ONLY":
		return SourceOnly, nil
	case "DUAL_WRITE_READ_SOURCE":
		return DualWriteReadSource, nil
	case "DUAL_WRITE_READ_TARGET":
		return DualWriteReadTarget, nil
	case "TARGET_ONLY":
		return TargetOnly, nil
	default:
		return 0, fmt.Errorf("%w: unknown phase %q", ErrConfiguration, s)
	}
}


package migration

import "errors"

// Sentinel errors returned by the top-level Database facade. Callers
// use errors.Is against these rather than matching on message text.
// Leaf
// packages (retry, backfill) own their own sentinels and return them
// through the facade unchanged; callers check those against the leaf
// package's variable (for example backfill.ErrNotRunning).
var (
	// ErrConfiguration is returned for malformed settings: unknown
	// phase names, unknown engine schemes, missing required query
	// parameters on a migration:// URL.
	ErrConfiguration = errors.New("migration: invalid configuration")

	// ErrTableNotFound is returned when a caller asks for table status
	// that has never been opened via Database.Table.
	ErrTableNotFound = errors.New("migration: table not found")

	// ErrClosed is returned by operations attempted after Disconnect.
	ErrClosed = errors.New("migration: database closed")
)

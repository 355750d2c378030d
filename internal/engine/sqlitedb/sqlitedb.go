// Package sqlitedb is a database/sql-backed reference implementation of
// engine.Database over modernc.org/sqlite. Each entity gets its own
// physical table (id TEXT PRIMARY KEY, doc TEXT, embedding BLOB);
// Condition/Modification trees are evaluated the same way as in
// memdb — migrant never needs the engine to understand its own DSL,
// only to apply it — but id-equality and id-greater-than conditions,
// the only ones migrant itself issues, are pushed down into SQL so
// backfill paging uses the primary-key index.
package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/sqlitedb/migrations"
)

// Database is a sqlite-backed engine.Database[M].
type Database[M any] struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite database at path and
// applies the base schema.
func Open[M any](ctx context.Context, path string) (*Database[M], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitedb: open: %w", err)
	}
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedb: set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedb: migrate: %w", err)
	}
	return &Database[M]{db: db}, nil
}

func (d *Database[M]) Connect(ctx context.Context) error    { return d.db.PingContext(ctx) }
func (d *Database[M]) Disconnect(ctx context.Context) error { return d.db.Close() }

func (d *Database[M]) HealthCheck(ctx context.Context) (engine.Health, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return engine.Health{Level: engine.HealthError, Message: err.Error()}, err
	}
	return engine.Health{Level: engine.HealthOK, Message: "sqlite reachable"}, nil
}

func (d *Database[M]) HealthCheckFrequency() (bool, int64) { return true, int64(30 * time.Second / time.Millisecond) }

func (d *Database[M]) Table(ctx context.Context, name string) (engine.Table[M], error) {
	if err := d.ensureTable(ctx, name); err != nil {
		return nil, err
	}
	return &table[M]{db: d.db, name: sanitizeName(name)}, nil
}

func (d *Database[M]) ensureTable(ctx context.Context, name string) error {
	sqlName := sanitizeName(name)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		embedding BLOB
	)`, sqlName)
	if _, err := d.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlitedb: create table %q: %w", name, err)
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO migrant_tables (table_name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		slog.Warn("sqlitedb: record table registration failed", "table", name, "error", err)
	}
	return nil
}

// sanitizeName guards against SQL injection through entity names; only
// lowercase alphanumerics and underscores are allowed as identifiers.
func sanitizeName(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, 't', '_')
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, byte(r))
		case r >= 'A' && r <= 'Z':
			out = append(out, byte(r-'A'+'a'))
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func rowToDoc(idStr, docJSON string) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/engine/memdb"
	"github.com/hyperengineering/migrant/internal/engine/sqlitedb"
	"github.com/hyperengineering/migrant/internal/migration/settings"
)

// initEngines registers the engine constructors this binary supports
// under their migration:// scheme names. Must run before settings.Build
// is called.
func initEngines() {
	settings.Register("memory", func(ctx context.Context, role settings.Role, values url.Values) (engine.AnyDatabase, error) {
		return memdb.New[Record](), nil
	})
	settings.Register("sqlite", func(ctx context.Context, role settings.Role, values url.Values) (engine.AnyDatabase, error) {
		path := values.Get("path")
		if path == "" {
			return nil, fmt.Errorf("sqlite engine (%s) requires a path parameter", role)
		}
		return sqlitedb.Open[Record](ctx, path)
	})
}

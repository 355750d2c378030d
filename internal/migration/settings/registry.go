// Package settings implements the migration:// URL scheme: a single
// connection string that names a source engine, a target engine, and
// the initial routing phase, resolved through an engine constructor
// registry: a package-level sync.RWMutex-guarded map with panic-on-
// duplicate registration.
package settings

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/migration"
)

// Role identifies which side of the migration a Constructor is being
// asked to build. The query values a Constructor receives already
// belong to that side alone (parsed out of its own nested endpoint
// URL), so Role is only needed for constructors whose behavior
// otherwise differs by side, such as logging or metrics labeling.
type Role string

const (
	RoleSource Role = "source"
	RoleTarget Role = "target"
)

// Constructor builds an engine.AnyDatabase from role and the query
// parameters of a migration:// URL. Concrete engines register one of
// these under their scheme name.
type Constructor func(ctx context.Context, role Role, values url.Values) (engine.AnyDatabase, error)

var (
	mu           sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register adds a Constructor under scheme. Panics if scheme is
// already registered, since two engines silently fighting over the
// same scheme is a programming error, not a runtime condition.
func Register(scheme string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := constructors[scheme]; exists {
		panic("settings: engine already registered for scheme: " + scheme)
	}
	constructors[scheme] = c
}

// Get returns the Constructor registered for scheme, if any.
func Get(scheme string) (Constructor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := constructors[scheme]
	return c, ok
}

// RegisteredSchemes returns every registered scheme name.
func RegisteredSchemes() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(constructors))
	for s := range constructors {
		out = append(out, s)
	}
	return out
}

// Reset clears the registry. Only for testing.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	constructors = make(map[string]Constructor)
}

// endpoint is one side's fully-independent database URL, nested inside
// the outer migration:// connection string: its own scheme and its own
// query parameters, entirely separate from the other side's.
type endpoint struct {
	scheme string
	values url.Values
}

// Settings is the parsed form of a migration:// connection string.
//
//	migration://?source=sqlite%3A%2F%2F%3Fpath%3Da.db&target=sqlite%3A%2F%2F%3Fpath%3Db.db&mode=DUAL_WRITE_READ_SOURCE
//
// source and target are themselves URL-encoded database URLs, parsed
// recursively: each carries its own scheme and query parameters,
// independent of the other side.
type Settings struct {
	SourceScheme string
	TargetScheme string
	Mode         migration.Phase

	source url.Values
	target url.Values
}

// Parse decodes a migration:// URL into Settings. source and target
// are required query parameters; mode is optional and defaults to
// SOURCE_ONLY. source and target are themselves
// percent-encoded database URLs, each parsed recursively into a scheme
// and its own query parameters for the matching engine Constructor.
func Parse(raw string) (Settings, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %v", migration.ErrConfiguration, err)
	}
	if u.Scheme != "migration" {
		return Settings{}, fmt.Errorf("%w: expected scheme \"migration\", got %q", migration.ErrConfiguration, u.Scheme)
	}

	values := u.Query()
	sourceRaw := values.Get("source")
	targetRaw := values.Get("target")
	if sourceRaw == "" || targetRaw == "" {
		return Settings{}, fmt.Errorf("%w: migration:// URL requires source and target", migration.ErrConfiguration)
	}

	source, err := parseEndpoint("source", sourceRaw)
	if err != nil {
		return Settings{}, err
	}
	target, err := parseEndpoint("target", targetRaw)
	if err != nil {
		return Settings{}, err
	}

	// mode is optional; an omitted mode defaults to SOURCE_ONLY, the
	// conservative starting point of the migration lifecycle.
	mode := migration.SourceOnly
	if modeStr := values.Get("mode"); modeStr != "" {
		var err error
		mode, err = migration.ParsePhase(modeStr)
		if err != nil {
			return Settings{}, err
		}
	}

	return Settings{
		SourceScheme: source.scheme,
		TargetScheme: target.scheme,
		Mode:         mode,
		source:       source.values,
		target:       target.values,
	}, nil
}

// parseEndpoint recursively parses a nested database URL carried as
// the value of the outer migration:// URL's source or target
// parameter. url.Values.Get has already percent-decoded it, so it
// parses as an ordinary absolute URL.
func parseEndpoint(side, raw string) (endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("%w: %s: %v", migration.ErrConfiguration, side, err)
	}
	if u.Scheme == "" {
		return endpoint{}, fmt.Errorf("%w: %s URL %q has no scheme", migration.ErrConfiguration, side, raw)
	}
	return endpoint{scheme: u.Scheme, values: u.Query()}, nil
}

// Build resolves Settings into a source and target engine.AnyDatabase
// using the registered Constructors. Each Constructor receives only
// its own side's nested query parameters, never the other side's.
func Build(ctx context.Context, s Settings) (source, target engine.AnyDatabase, err error) {
	sourceCtor, ok := Get(s.SourceScheme)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no engine registered for scheme %q", migration.ErrConfiguration, s.SourceScheme)
	}
	targetCtor, ok := Get(s.TargetScheme)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no engine registered for scheme %q", migration.ErrConfiguration, s.TargetScheme)
	}

	source, err = sourceCtor(ctx, RoleSource, s.source)
	if err != nil {
		return nil, nil, fmt.Errorf("settings: build source engine: %w", err)
	}
	target, err = targetCtor(ctx, RoleTarget, s.target)
	if err != nil {
		return nil, nil, fmt.Errorf("settings: build target engine: %w", err)
	}
	return source, target, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperengineering/migrant/internal/checkpoint"
	"github.com/hyperengineering/migrant/internal/config"
	"github.com/hyperengineering/migrant/internal/engine"
	"github.com/hyperengineering/migrant/internal/migration"
	"github.com/hyperengineering/migrant/internal/migration/backfill"
	"github.com/hyperengineering/migrant/internal/migration/retry"
	"github.com/hyperengineering/migrant/internal/migration/settings"
)

// buildDatabase parses cfg.Migration.URL, resolves its source/target
// engines through the settings registry, and assembles the top-level
// migration.Database[Record]. Only serve calls it; the status, mode,
// backfill and verify subcommands talk to the running server's admin
// API instead of building a Database of their own.
func buildDatabase(ctx context.Context, cfg *config.Config) (*migration.Database[Record], error) {
	parsed, err := settings.Parse(cfg.Migration.URL)
	if err != nil {
		return nil, fmt.Errorf("parse migration url: %w", err)
	}

	anySource, anyTarget, err := settings.Build(ctx, parsed)
	if err != nil {
		return nil, fmt.Errorf("build engines: %w", err)
	}

	source, ok := anySource.(engine.Database[Record])
	if !ok {
		return nil, fmt.Errorf("source engine %q does not implement engine.Database", parsed.SourceScheme)
	}
	target, ok := anyTarget.(engine.Database[Record])
	if !ok {
		return nil, fmt.Errorf("target engine %q does not implement engine.Database", parsed.TargetScheme)
	}

	defaultPhase, err := migration.ParsePhase(cfg.Migration.DefaultPhase)
	if err != nil {
		return nil, err
	}
	phases := migration.NewPhaseRegistry(defaultPhase)
	if parsed.Mode != defaultPhase {
		// The URL's mode query parameter seeds the registry's initial
		// default too, so a migration:// string is self-contained even
		// when migration.default_phase wasn't set in config.
		phases.SetDefault(parsed.Mode)
	}

	checkpointStore, err := checkpoint.NewS3Store(checkpoint.Config{
		Endpoint:  cfg.Checkpoint.Endpoint,
		Bucket:    cfg.Checkpoint.Bucket,
		AccessKey: cfg.Checkpoint.AccessKey,
		SecretKey: cfg.Checkpoint.SecretKey,
		Region:    cfg.Checkpoint.Region,
		UseSSL:    cfg.Checkpoint.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkpoint store: %w", err)
	}

	dbCfg := migration.Config[Record]{
		RetryQueue: retry.Config{
			MaxSize:        cfg.Retry.MaxSize,
			InitialBackoff: time.Duration(cfg.Retry.InitialBackoff),
			MaxBackoff:     time.Duration(cfg.Retry.MaxBackoff),
			MaxAttempts:    uint64(cfg.Retry.MaxAttempts),
		},
		Backfill: backfill.Config[Record]{
			IDField:              engine.NewPath[Record]("id"),
			PageSize:             cfg.Backfill.PageSize,
			Concurrency:          cfg.Backfill.Concurrency,
			MaxErrorsBeforePause: cfg.Backfill.MaxErrorsBeforePause,
			MaxErrorsToRetain:    cfg.Backfill.MaxErrorsToRetain,
			FailFast:             cfg.Backfill.FailFast,
			DelayBetweenBatches:  time.Duration(cfg.Backfill.DelayBetweenBatches),
		},
		IDField:    engine.NewPath[Record]("id"),
		IDOf:       recordID,
		Checkpoint: checkpointStore,
	}

	return migration.New[Record](source, target, phases, dbCfg), nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"MIGRANT_PORT",
		"MIGRANT_READ_TIMEOUT",
		"MIGRANT_WRITE_TIMEOUT",
		"MIGRANT_URL",
		"MIGRANT_DEFAULT_PHASE",
		"MIGRANT_RETRY_MAX_SIZE",
		"MIGRANT_RETRY_MAX_ATTEMPTS",
		"MIGRANT_BACKFILL_PAGE_SIZE",
		"MIGRANT_BACKFILL_CONCURRENCY",
		"MIGRANT_CHECKPOINT_BUCKET",
		"MIGRANT_CHECKPOINT_ENDPOINT",
		"MIGRANT_CHECKPOINT_ACCESS_KEY",
		"MIGRANT_CHECKPOINT_SECRET_KEY",
		"MIGRANT_LOG_LEVEL",
		"MIGRANT_LOG_FORMAT",
		"MIGRANT_CONFIG_PATH",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoadFromFile_Defaults(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "migrant.yaml")
	yamlContent := `
migration:
  url: "migration://?source=sqlite&target=sqlite&mode=SOURCE_ONLY"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 8090 {
		t.Errorf("Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Retry.MaxSize != 10000 {
		t.Errorf("Retry.MaxSize = %d, want 10000", cfg.Retry.MaxSize)
	}
	if cfg.Backfill.PageSize != 1000 {
		t.Errorf("Backfill.PageSize = %d, want 1000", cfg.Backfill.PageSize)
	}
	if cfg.Migration.DefaultPhase != "SOURCE_ONLY" {
		t.Errorf("Migration.DefaultPhase = %q, want SOURCE_ONLY", cfg.Migration.DefaultPhase)
	}
}

func TestLoadFromFile_MissingRequiresURL(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "migrant.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for missing migration.url, got nil")
	}
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("MIGRANT_PORT", "9999")
	os.Setenv("MIGRANT_URL", "migration://?source=sqlite&target=sqlite&mode=TARGET_ONLY")
	os.Setenv("MIGRANT_BACKFILL_PAGE_SIZE", "1000")

	dir := t.TempDir()
	path := filepath.Join(dir, "migrant.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Migration.URL != "migration://?source=sqlite&target=sqlite&mode=TARGET_ONLY" {
		t.Errorf("Migration.URL = %q", cfg.Migration.URL)
	}
	if cfg.Backfill.PageSize != 1000 {
		t.Errorf("Backfill.PageSize = %d, want 1000", cfg.Backfill.PageSize)
	}
}

func TestLoadFromFile_CheckpointRequiresCredentials(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	os.Setenv("MIGRANT_URL", "migration://?source=sqlite&target=sqlite&mode=SOURCE_ONLY")
	os.Setenv("MIGRANT_CHECKPOINT_BUCKET", "migrant-checkpoints")

	dir := t.TempDir()
	path := filepath.Join(dir, "migrant.yaml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for checkpoint bucket without credentials, got nil")
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "migrant.yaml")
	yamlContent := `
migration:
  url: "migration://?source=sqlite&target=sqlite&mode=SOURCE_ONLY"
retry:
  initial_backoff: "250ms"
  max_backoff: "1m"
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if time.Duration(cfg.Retry.InitialBackoff) != 250*time.Millisecond {
		t.Errorf("Retry.InitialBackoff = %v, want 250ms", time.Duration(cfg.Retry.InitialBackoff))
	}
	if time.Duration(cfg.Retry.MaxBackoff) != time.Minute {
		t.Errorf("Retry.MaxBackoff = %v, want 1m", time.Duration(cfg.Retry.MaxBackoff))
	}
}

func TestLoadFromFile_MissingFileErrors(t *testing.T) {
	clearEnv(t)
	if _, err := LoadFromFile("/nonexistent/migrant.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

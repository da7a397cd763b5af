package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DumpURL != defaultDumpURL {
		t.Fatalf("got %q, want default dump URL", cfg.DumpURL)
	}
	if cfg.Seeds.TerritorialEntities != "Q56061" {
		t.Fatalf("got %q, want default territorial-entities seed", cfg.Seeds.TerritorialEntities)
	}
}

func TestLoadMergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("output_path: custom.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.OutputPath != "custom.db" {
		t.Fatalf("got %q, want custom.db", cfg.OutputPath)
	}
	if cfg.DumpURL != defaultDumpURL {
		t.Fatalf("expected unset fields to keep their defaults, got %q", cfg.DumpURL)
	}
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("GEOINGEST_OUTPUT_PATH", "from-env.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.OutputPath != "from-env.db" {
		t.Fatalf("got %q, want from-env.db", cfg.OutputPath)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := Default()
	cfg.Workers = 7
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Workers != 7 {
		t.Fatalf("got %d, want 7", loaded.Workers)
	}
}

func TestDurationUnmarshalsFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("progress_interval: 30s\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if time.Duration(cfg.ProgressInterval) != 30*time.Second {
		t.Fatalf("got %v, want 30s", time.Duration(cfg.ProgressInterval))
	}
}

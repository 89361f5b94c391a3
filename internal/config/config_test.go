package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Conflict.DuplicateThreshold != 0.92 {
		t.Fatalf("expected default duplicate threshold, got %v", cfg.Conflict.DuplicateThreshold)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
storage:
  path: /tmp/custom-store
  max_title: 64
conflict:
  duplicate_threshold: 0.99
`
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/custom-store" {
		t.Fatalf("expected overridden storage path, got %q", cfg.Storage.Path)
	}
	if cfg.Storage.MaxTitle != 64 {
		t.Fatalf("expected overridden max_title, got %d", cfg.Storage.MaxTitle)
	}
	if cfg.Conflict.DuplicateThreshold != 0.99 {
		t.Fatalf("expected overridden duplicate threshold, got %v", cfg.Conflict.DuplicateThreshold)
	}
}

func TestEnvOverridesStoragePath(t *testing.T) {
	t.Setenv("AGENTMEM_STORAGE_PATH", "/tmp/env-path")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Path != "/tmp/env-path" {
		t.Fatalf("expected env override applied, got %q", cfg.Storage.Path)
	}
}

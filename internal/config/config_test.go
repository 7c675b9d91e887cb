package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigYAMLRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Project.Name = "acme"
	cfg.Project.Criteria = []string{"all endpoints authenticated", "p99 under 200ms"}
	cfg.Execution.RetryCeiling = 2
	cfg.Breaker.OpenAfterNoProgress = 7

	if err := WriteConfig(tmpDir, cfg); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	loaded, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}

	if loaded.Project.Name != "acme" {
		t.Errorf("Project.Name: got %q, want %q", loaded.Project.Name, "acme")
	}
	if len(loaded.Project.Criteria) != 2 {
		t.Errorf("Project.Criteria: got %d entries, want 2", len(loaded.Project.Criteria))
	}
	if loaded.Execution.RetryCeiling != 2 {
		t.Errorf("RetryCeiling: got %d, want 2", loaded.Execution.RetryCeiling)
	}
	if loaded.Breaker.OpenAfterNoProgress != 7 {
		t.Errorf("OpenAfterNoProgress: got %d, want 7", loaded.Breaker.OpenAfterNoProgress)
	}
}

func TestDefaultConfigBreakerThresholds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Breaker.HalfOpenAfter != 2 {
		t.Errorf("HalfOpenAfter: got %d, want 2", cfg.Breaker.HalfOpenAfter)
	}
	if cfg.Breaker.OpenAfterNoProgress != 3 {
		t.Errorf("OpenAfterNoProgress: got %d, want 3", cfg.Breaker.OpenAfterNoProgress)
	}
	if cfg.Breaker.OpenAfterSameError != 5 {
		t.Errorf("OpenAfterSameError: got %d, want 5", cfg.Breaker.OpenAfterSameError)
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	if _, err := ReadConfig(t.TempDir()); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestPartialConfigKeepsZeroValues(t *testing.T) {
	tmpDir := t.TempDir()
	partial := `version: 1
project:
  name: minimal
models:
  coding: sonnet
`
	dir := filepath.Join(tmpDir, ".drydock")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	loaded, err := ReadConfig(tmpDir)
	if err != nil {
		t.Fatalf("ReadConfig failed: %v", err)
	}
	if loaded.Project.Name != "minimal" {
		t.Errorf("Project.Name: got %q, want %q", loaded.Project.Name, "minimal")
	}
	if loaded.Models.Coding != "sonnet" {
		t.Errorf("Models.Coding: got %q, want %q", loaded.Models.Coding, "sonnet")
	}
	// Unset sections stay zero; downstream consumers apply defaults.
	if loaded.Execution.RetryCeiling != 0 {
		t.Errorf("RetryCeiling: got %d, want 0", loaded.Execution.RetryCeiling)
	}
}

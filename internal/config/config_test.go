package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from a temp dir so a developer's local config.yaml is not
	// picked up.
	tempDir := t.TempDir()
	restore := chdir(t, tempDir)
	defer restore()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Session.TTL != 72*time.Hour {
		t.Errorf("Session.TTL = %v, want 72h", cfg.Session.TTL)
	}
	if cfg.Reconcile.TipFloorCents != -2000 {
		t.Errorf("Reconcile.TipFloorCents = %d, want -2000", cfg.Reconcile.TipFloorCents)
	}
	if cfg.Allocator.MaxRetries != 3 {
		t.Errorf("Allocator.MaxRetries = %d, want 3", cfg.Allocator.MaxRetries)
	}
}

func TestLoadFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "config.yaml")
	content := `
server:
  port: "9090"
  baseurl: "https://tabs.example.com"
storage:
  backend: postgres
  postgresdsn: "postgres://tabsplit@localhost:5432/tabsplit"
  poolmaxconns: 4
session:
  secret: "s3cret"
  ttl: 24h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Server.BaseURL != "https://tabs.example.com" {
		t.Errorf("Server.BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("Storage.Backend = %q, want postgres", cfg.Storage.Backend)
	}
	if cfg.Storage.PoolMaxConns != 4 {
		t.Errorf("Storage.PoolMaxConns = %d, want 4", cfg.Storage.PoolMaxConns)
	}
	if cfg.Session.Secret != "s3cret" {
		t.Errorf("Session.Secret = %q", cfg.Session.Secret)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("Session.TTL = %v, want 24h", cfg.Session.TTL)
	}
	// Unset fields keep their defaults.
	if cfg.Reconcile.MaxPasses != 2 {
		t.Errorf("Reconcile.MaxPasses = %d, want 2", cfg.Reconcile.MaxPasses)
	}
}

func TestLoadValidation(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{
			name: "postgres backend without DSN",
			content: `
storage:
  backend: postgres
`,
		},
		{
			name: "unknown backend",
			content: `
storage:
  backend: dynamo
`,
		},
		{
			name: "empty session secret",
			content: `
session:
  secret: ""
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	return func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("Chdir back failed: %v", err)
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: primary
    host: news.example.com
    port: 563
    connections: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Download.Retries != 3 {
		t.Fatalf("expected default retries=3, got %d", cfg.Download.Retries)
	}
	if cfg.Download.HealthCheck != "pause" {
		t.Fatalf("expected default health_check=pause, got %q", cfg.Download.HealthCheck)
	}
	if cfg.Servers[0].Connections != 20 {
		t.Fatalf("expected connections to round-trip, got %d", cfg.Servers[0].Connections)
	}
}

func TestLoadDefaultsMissingServerConnections(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: primary
    host: news.example.com
    port: 563
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Servers[0].Connections != 10 {
		t.Fatalf("expected connections defaulted to 10, got %d", cfg.Servers[0].Connections)
	}
}

func TestLoadRejectsEmptyServerList(t *testing.T) {
	path := writeConfig(t, `servers: []`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty server list")
	}
}

func TestLoadRejectsServerMissingHost(t *testing.T) {
	path := writeConfig(t, `
servers:
  - id: primary
    port: 563
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing host")
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

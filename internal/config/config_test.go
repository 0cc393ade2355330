package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "localhost" {
		t.Errorf("Broker.Host = %q, want localhost", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 1883 {
		t.Errorf("Broker.Port = %d, want 1883", cfg.Broker.Port)
	}
	if cfg.Broker.AwaitTimeout.Duration != 3*time.Second {
		t.Errorf("Broker.AwaitTimeout = %v, want 3s", cfg.Broker.AwaitTimeout.Duration)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manta.yaml")
	yamlContent := `
broker:
  host: broker.example.com
  port: 8000
payproc:
  key_file: /etc/manta/key.pem
  starting_txid: 42
logging:
  level: debug
  format: console
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "broker.example.com" {
		t.Errorf("Broker.Host = %q, want broker.example.com", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 8000 {
		t.Errorf("Broker.Port = %d, want 8000", cfg.Broker.Port)
	}
	if cfg.PayProc.StartingTXID != 42 {
		t.Errorf("PayProc.StartingTXID = %d, want 42", cfg.PayProc.StartingTXID)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manta.yaml")
	if err := os.WriteFile(path, []byte("broker:\n  port: 70000\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() expected error for out-of-range port")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MANTA_BROKER_HOST", "override.example.com")
	t.Setenv("MANTA_BROKER_PORT", "1884")
	t.Setenv("MANTA_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Broker.Host != "override.example.com" {
		t.Errorf("Broker.Host = %q, want override.example.com", cfg.Broker.Host)
	}
	if cfg.Broker.Port != 1884 {
		t.Errorf("Broker.Port = %d, want 1884", cfg.Broker.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

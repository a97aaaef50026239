// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

session:
  ttl: "48h"

conversations:
  preview_length: 80

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify duration parsing
	if cfg.Session.TTL != 48*time.Hour {
		t.Errorf("Session.TTL = %v, want %v", cfg.Session.TTL, 48*time.Hour)
	}

	if cfg.Conversations.PreviewLength != 80 {
		t.Errorf("Conversations.PreviewLength = %d, want 80", cfg.Conversations.PreviewLength)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_DefaultsFillMissingFields(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Session.TTL != 7*24*time.Hour {
		t.Errorf("Session.TTL = %v, want %v", cfg.Session.TTL, 7*24*time.Hour)
	}
	if cfg.Conversations.PreviewLength != 100 {
		t.Errorf("Conversations.PreviewLength = %d, want 100", cfg.Conversations.PreviewLength)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("NABU_TEST_DB_PATH", "/tmp/expanded.db")

	configPath := writeConfig(t, `
database:
  path: "${NABU_TEST_DB_PATH}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/expanded.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/expanded.db")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "${NABU_DEFINITELY_NOT_SET}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail validation with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want mention of database.path", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

session:
  ttl: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail on invalid duration")
	}
	if !strings.Contains(err.Error(), "ttl") {
		t.Errorf("error = %v, want mention of ttl", err)
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "./test.db"

logging:
  level: "verbose"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail on unknown log level")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("Load() should fail on missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path == "" {
		t.Error("Default() database path is empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestValidate_NegativeValues(t *testing.T) {
	cfg := Default()
	cfg.Session.TTL = -time.Hour
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject negative session ttl")
	}

	cfg = Default()
	cfg.Conversations.PreviewLength = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should reject negative preview length")
	}
}

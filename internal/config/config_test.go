package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"custodia/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, resolved, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != "" {
		t.Fatalf("missing file should report no resolved path, got %q", resolved)
	}
	if cfg.Engine.MaxRetries != 3 {
		t.Fatalf("expected default max retries, got %d", cfg.Engine.MaxRetries)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if !cfg.Notifications.Workflow || !cfg.Notifications.Errors {
		t.Fatalf("notification categories should default on: %+v", cfg.Notifications)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
max_retries = 5
signing_secret = "s3cret"

[evidence]
base_url = "https://evidence.example.test/api/"

[logging]
level = "DEBUG"
format = "JSON"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Engine.MaxRetries != 5 || cfg.Engine.SigningSecret != "s3cret" {
		t.Fatalf("overrides not applied: %+v", cfg.Engine)
	}
	if cfg.Evidence.BaseURL != "https://evidence.example.test/api" {
		t.Fatalf("base url not normalized: %q", cfg.Evidence.BaseURL)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Fatalf("logging values not lowercased: %+v", cfg.Logging)
	}
	if cfg.Evidence.TimeoutSeconds != 15 {
		t.Fatalf("untouched fields must keep defaults, got %d", cfg.Evidence.TimeoutSeconds)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[engine]
max_retires = 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key rejection, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = ""
	cfg.Engine.SigningSecret = ""
	cfg.Inference.BaseURL = ""
	cfg.Logging.Format = "yaml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, fragment := range []string{
		"paths.data_dir",
		"engine.signing_secret",
		"inference.base_url",
		"logging.format",
	} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestValidateAcceptsWorkingConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.SigningSecret = "s3cret"
	cfg.Inference.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWriteSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "signing_secret") {
		t.Fatal("sample config should mention the signing secret")
	}

	if err := config.WriteSample(path); err == nil {
		t.Fatal("WriteSample must refuse to overwrite an existing file")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	if got := config.ExpandPath("~/custodia/config.toml"); got != filepath.Join(home, "custodia/config.toml") {
		t.Fatalf("unexpected expansion: %q", got)
	}
	if got := config.ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Fatalf("absolute paths must pass through, got %q", got)
	}
	if got := config.ExpandPath("  "); got != "" {
		t.Fatalf("blank input must collapse to empty, got %q", got)
	}
}

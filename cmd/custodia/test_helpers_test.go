package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"custodia/internal/config"
	"custodia/internal/signing"
	"custodia/internal/testsupport"
)

type cliTestEnv struct {
	cfg         *config.Config
	configPath  string
	baseDir     string
	fingerprint string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("USER", "analyst-1")

	record := testsupport.NewEvidenceRecord("ev-7001")
	fingerprint, err := signing.Fingerprint(record)
	if err != nil {
		t.Fatalf("fingerprint evidence record: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/evidence/"+record.ID {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(record)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	cfg := testsupport.NewConfig(t)
	cfg.Evidence.BaseURL = server.URL
	cfg.Logging.Level = "error"

	configPath := filepath.Join(homeDir, ".config", "custodia", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base, fingerprint: fingerprint}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// startWorkflow runs the start command and extracts the generated workflow id
// from the first output line.
func startWorkflow(t *testing.T, env *cliTestEnv) string {
	t.Helper()
	out, _, err := runCLI(t, env, "start", "ev-7001", "--case", "case-001", "--fingerprint", env.fingerprint)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "started for evidence ev-7001")

	fields := strings.Fields(strings.SplitN(out, "\n", 2)[0])
	if len(fields) < 2 {
		t.Fatalf("cannot parse workflow id from %q", out)
	}
	return fields[1]
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

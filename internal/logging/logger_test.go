package logging_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"custodia/internal/logging"
)

func readLogFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(data)
}

func TestJSONFormatRemapsKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, "wf-1"),
		logging.Int("progress", 10))
	logger.Debug("should be filtered")

	lines := strings.Split(strings.TrimSpace(readLogFile(t, path)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one emitted line, got %d", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "workflow started" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Fatalf("level must be lowercased, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatal("expected remapped ts key")
	}
	if entry[logging.FieldWorkflowID] != "wf-1" {
		t.Fatalf("unexpected workflow id: %v", entry[logging.FieldWorkflowID])
	}
}

func TestConsoleFormatPrefixesComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "console",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	logging.NewComponentLogger(logger, "engine").Info("stage complete",
		logging.String(logging.FieldStage, "intake"))

	line := strings.TrimSpace(readLogFile(t, path))
	if !strings.Contains(line, "INFO engine: stage complete") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "stage=intake") {
		t.Fatalf("expected flattened attrs in %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "yaml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestContextFields(t *testing.T) {
	ctx := logging.WithStage(logging.WithWorkflowID(context.Background(), "wf-9"), "verification")

	fields := logging.ContextFields(ctx)
	if len(fields) != 2 {
		t.Fatalf("expected two fields, got %d", len(fields))
	}
	if fields[0].Key != logging.FieldWorkflowID || fields[0].Value.String() != "wf-9" {
		t.Fatalf("unexpected workflow field: %v", fields[0])
	}
	if fields[1].Key != logging.FieldStage || fields[1].Value.String() != "verification" {
		t.Fatalf("unexpected stage field: %v", fields[1])
	}

	if got := logging.ContextFields(context.Background()); len(got) != 0 {
		t.Fatalf("expected no fields from a bare context, got %v", got)
	}
}

func TestNopLoggerStaysSilent(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger must never be enabled")
	}
}

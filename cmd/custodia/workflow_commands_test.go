package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestWorkflowLifecycleViaCLI(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	out, _, err := runCLI(t, env, "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	requireContains(t, out, "Collaboration")
	requireContains(t, out, "65%")

	out, _, err = runCLI(t, env, "join", id, "reviewer-1", "--role", "lead")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	requireContains(t, out, "reviewer-1 joined review")

	out, _, err = runCLI(t, env, "annotate", id, "reviewer-1", "hash chain intact", "--position", "page 2")
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	requireContains(t, out, "Annotation")

	out, _, err = runCLI(t, env, "transfer", id, "archivist-1", "--reason", "handover to archival team")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	requireContains(t, out, "transferred to archivist-1")

	out, _, err = runCLI(t, env, "review", id)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	requireContains(t, out, "Completed")
	requireContains(t, out, "100%")

	out, _, err = runCLI(t, env, "report", id)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	requireContains(t, out, `"evidence_id": "ev-7001"`)
	requireContains(t, out, `"transfers": 1`)

	out, _, err = runCLI(t, env, "verify-audit", id)
	if err != nil {
		t.Fatalf("verify-audit: %v", err)
	}
	requireContains(t, out, "event signatures verified")
	requireContains(t, out, "Stored report matches the event chain byte for byte")
}

func TestStartRequiresFingerprint(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, "start", "ev-7001", "--case", "case-001")
	if err == nil || !strings.Contains(err.Error(), "--fingerprint is required") {
		t.Fatalf("expected start without a fingerprint to fail, got %v", err)
	}
}

func TestStartFlagsMismatchedFingerprint(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "start", "ev-7001", "--case", "case-001",
		"--fingerprint", "sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Compromised")
}

func TestShowEmitsSnapshotJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	out, _, err := runCLI(t, env, "show", id, "--json")
	if err != nil {
		t.Fatalf("show --json: %v", err)
	}
	var snapshot struct {
		ID              string `json:"id"`
		EvidenceID      string `json:"evidence_id"`
		Stage           string `json:"stage"`
		Progress        int    `json:"progress"`
		IntegrityStatus string `json:"integrity_status"`
	}
	if err := json.Unmarshal([]byte(out), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snapshot.ID != id || snapshot.EvidenceID != "ev-7001" {
		t.Fatalf("unexpected identity: %+v", snapshot)
	}
	if snapshot.Stage != "collaboration" || snapshot.Progress != 65 {
		t.Fatalf("unexpected stage: %+v", snapshot)
	}
	if snapshot.IntegrityStatus != "verified" {
		t.Fatalf("integrity status = %q, want verified", snapshot.IntegrityStatus)
	}
}

func TestShowResolvesByEvidenceID(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	out, _, err := runCLI(t, env, "show", "ev-7001")
	if err != nil {
		t.Fatalf("show by evidence id: %v", err)
	}
	requireContains(t, out, id)
}

func TestShowUnknownWorkflow(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env, "show", "no-such-id")
	if err == nil || !strings.Contains(err.Error(), "no workflow matches") {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}

func TestTransferRequiresReason(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	if _, _, err := runCLI(t, env, "transfer", id, "archivist-1"); err == nil {
		t.Fatal("expected transfer without reason to fail")
	}
}

func TestCancelStopsWorkflow(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	out, _, err := runCLI(t, env, "cancel", id)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, out, "cancelled")

	if _, _, err := runCLI(t, env, "review", id); err == nil {
		t.Fatal("cancelled workflow must refuse further commands")
	}
}

func TestListShowsWorkflows(t *testing.T) {
	env := setupCLITestEnv(t)
	id := startWorkflow(t, env)

	out, _, err := runCLI(t, env, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, id)
	requireContains(t, out, "ev-7001")

	out, _, err = runCLI(t, env, "list", "--stage", "completed")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	requireContains(t, out, "No workflows found")
}

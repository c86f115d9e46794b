package audit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"custodia/internal/custody"
	"custodia/internal/testsupport"
)

func newInstance(id string) *custody.Instance {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	return &custody.Instance{
		ID:               id,
		EvidenceID:       "ev-" + id,
		CaseID:           "case-1",
		InitiatedBy:      "analyst-1",
		CurrentCustodian: "analyst-1",
		IntegrityStatus:  custody.IntegrityPending,
		Stage:            custody.StageIntake,
		Progress:         10,
		MaxRetries:       3,
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

func newEvent(id string, eventType custody.EventType) custody.Event {
	return custody.Event{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Date(2026, 6, 1, 9, 5, 0, 0, time.UTC),
		ActorID:   "analyst-1",
		Details:   json.RawMessage(`{"duration_ms":12}`),
		Signature: "sig-" + id,
	}
}

func TestSaveAndGetInstanceRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	inst := newInstance("wf-1")
	inst.Events = append(inst.Events, newEvent("evt-1", custody.EventIntake))
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	fetched, err := store.GetInstance(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected instance to exist")
	}
	if fetched.EvidenceID != inst.EvidenceID || fetched.Stage != inst.Stage {
		t.Fatalf("round trip mismatch: %+v", fetched)
	}
	if len(fetched.Events) != 1 || fetched.Events[0].ID != "evt-1" {
		t.Fatalf("expected events in snapshot, got %v", fetched.Events)
	}

	missing, err := store.GetInstance(ctx, "nope")
	if err != nil {
		t.Fatalf("GetInstance missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for unknown workflow")
	}
}

func TestFindByEvidenceReturnsLatest(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := newInstance("wf-1")
	first.EvidenceID = "ev-shared"
	first.StartedAt = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	second := newInstance("wf-2")
	second.EvidenceID = "ev-shared"
	second.StartedAt = time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC)

	for _, inst := range []*custody.Instance{first, second} {
		if err := store.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance %s: %v", inst.ID, err)
		}
	}

	found, err := store.FindByEvidence(ctx, "ev-shared")
	if err != nil {
		t.Fatalf("FindByEvidence: %v", err)
	}
	if found == nil || found.ID != "wf-2" {
		t.Fatalf("expected most recent workflow wf-2, got %+v", found)
	}
}

func TestEventChainIsAppendOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	inst := newInstance("wf-1")
	inst.Events = append(inst.Events,
		newEvent("evt-1", custody.EventIntake),
		newEvent("evt-2", custody.EventVerification),
	)
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	// Growing the chain is fine.
	inst.Events = append(inst.Events, newEvent("evt-3", custody.EventTransfer))
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance append: %v", err)
	}

	// Shrinking it is rejected.
	inst.Events = inst.Events[:1]
	err := store.SaveInstance(ctx, inst)
	if err == nil {
		t.Fatal("expected shrunken event chain to be rejected")
	}
	if !strings.Contains(err.Error(), "cannot shrink") {
		t.Fatalf("unexpected error: %v", err)
	}

	events, err := store.Events(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 persisted events, got %d", len(events))
	}
	for i, want := range []string{"evt-1", "evt-2", "evt-3"} {
		if events[i].ID != want {
			t.Fatalf("expected event %s at position %d, got %s", want, i, events[i].ID)
		}
	}
}

func TestListFiltersByStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stages := []custody.Stage{
		custody.StageCollaboration,
		custody.StageCollaboration,
		custody.StageCompleted,
		custody.StageError,
	}
	for i, stage := range stages {
		inst := newInstance(fmt.Sprintf("wf-%d", i))
		inst.EvidenceID = fmt.Sprintf("ev-%d", i)
		inst.Stage = stage
		if err := store.SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance %d: %v", i, err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 workflows, got %d", len(all))
	}

	active, err := store.List(ctx, custody.StageCollaboration, custody.StageError)
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 filtered workflows, got %d", len(active))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[custody.StageCollaboration] != 2 || stats[custody.StageCompleted] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestReportRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	inst := newInstance("wf-1")
	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	payload := []byte(`{"evidence_id":"ev-wf-1","event_count":4}`)
	if err := store.SaveReport(ctx, "wf-1", payload); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	stored, err := store.GetReport(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if string(stored) != string(payload) {
		t.Fatalf("report mismatch: %s", stored)
	}

	none, err := store.GetReport(ctx, "wf-none")
	if err != nil {
		t.Fatalf("GetReport missing: %v", err)
	}
	if none != nil {
		t.Fatal("expected nil report for unknown workflow")
	}
}

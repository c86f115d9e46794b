package signing_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"custodia/internal/custody"
	"custodia/internal/signing"
)

func newSigner(t *testing.T) *signing.HMACSigner {
	t.Helper()
	signer, err := signing.NewHMACSigner("unit-test-secret")
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	return signer
}

func TestNewHMACSignerRequiresSecret(t *testing.T) {
	if _, err := signing.NewHMACSigner(""); err == nil {
		t.Fatal("expected empty secret to be rejected")
	}
}

func TestSignAndVerifyEvent(t *testing.T) {
	signer := newSigner(t)
	event := custody.Event{
		ID:        "evt-1",
		Type:      custody.EventIntake,
		Timestamp: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
		ActorID:   "analyst-1",
		Details:   json.RawMessage(`{"evidence_id":"ev-1"}`),
	}

	if err := signing.SignEvent(signer, &event); err != nil {
		t.Fatalf("SignEvent: %v", err)
	}
	if event.Signature == "" {
		t.Fatal("expected signature to be attached")
	}

	ok, err := signing.VerifyEvent(signer, event)
	if err != nil {
		t.Fatalf("VerifyEvent: %v", err)
	}
	if !ok {
		t.Fatal("expected signature to verify")
	}

	tampered := event
	tampered.Details = json.RawMessage(`{"evidence_id":"ev-2"}`)
	ok, err = signing.VerifyEvent(signer, tampered)
	if err != nil {
		t.Fatalf("VerifyEvent tampered: %v", err)
	}
	if ok {
		t.Fatal("expected tampered event to fail verification")
	}
}

func TestVerifyChainReportsFirstBadEvent(t *testing.T) {
	signer := newSigner(t)

	events := make([]custody.Event, 3)
	for i := range events {
		events[i] = custody.Event{
			ID:        "evt-" + strings.Repeat("x", i+1),
			Type:      custody.EventTransfer,
			Timestamp: time.Date(2026, 2, 1, 8, i, 0, 0, time.UTC),
			ActorID:   "custodian-1",
			Details:   json.RawMessage(`{}`),
		}
		if err := signing.SignEvent(signer, &events[i]); err != nil {
			t.Fatalf("SignEvent %d: %v", i, err)
		}
	}

	index, err := signing.VerifyChain(signer, events)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if index != -1 {
		t.Fatalf("expected intact chain, got bad index %d", index)
	}

	events[1].ActorID = "intruder"
	index, err = signing.VerifyChain(signer, events)
	if err != nil {
		t.Fatalf("VerifyChain after tamper: %v", err)
	}
	if index != 1 {
		t.Fatalf("expected bad index 1, got %d", index)
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	record := &custody.EvidenceRecord{
		ID:            "ev-1",
		CaseID:        "case-9",
		Title:         "Access logs",
		ContentDigest: "sha256:abc",
		CollectedAt:   time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}

	first, err := signing.Fingerprint(record)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	second, err := signing.Fingerprint(record)
	if err != nil {
		t.Fatalf("Fingerprint repeat: %v", err)
	}
	if first != second {
		t.Fatalf("fingerprint not deterministic: %s vs %s", first, second)
	}
	if !strings.HasPrefix(first, "sha256:") {
		t.Fatalf("expected algorithm prefix, got %s", first)
	}

	record.Title = "Access logs (edited)"
	changed, err := signing.Fingerprint(record)
	if err != nil {
		t.Fatalf("Fingerprint changed: %v", err)
	}
	if changed == first {
		t.Fatal("expected fingerprint to change with content")
	}
}

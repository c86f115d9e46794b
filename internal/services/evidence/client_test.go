package evidence_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"custodia/internal/custody"
	"custodia/internal/services"
	"custodia/internal/services/evidence"
)

func TestFetchDecodesRecord(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/evidence/ev-42" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(custody.EvidenceRecord{
			ID:            "ev-42",
			CaseID:        "case-9",
			Title:         "Router logs",
			ContentDigest: "sha256:abc",
		})
	}))
	defer server.Close()

	client := evidence.NewClient(evidence.Config{BaseURL: server.URL, APIToken: "token-1"})
	record, err := client.Fetch(context.Background(), "ev-42")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if record.CaseID != "case-9" || record.Title != "Router logs" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
}

func TestFetchMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := evidence.NewClient(evidence.Config{BaseURL: server.URL})
	_, err := client.Fetch(context.Background(), "ev-missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestFetchMapsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client := evidence.NewClient(evidence.Config{BaseURL: server.URL})
	_, err := client.Fetch(context.Background(), "ev-1")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestFetchValidatesInput(t *testing.T) {
	client := evidence.NewClient(evidence.Config{BaseURL: "http://127.0.0.1:0"})
	if _, err := client.Fetch(context.Background(), "  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	unconfigured := evidence.NewClient(evidence.Config{})
	if _, err := unconfigured.Fetch(context.Background(), "ev-1"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := evidence.NewClient(evidence.Config{BaseURL: server.URL})
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

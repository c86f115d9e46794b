package inference_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"custodia/internal/custody"
	"custodia/internal/services"
	"custodia/internal/services/inference"
)

func testRecord() *custody.EvidenceRecord {
	return &custody.EvidenceRecord{
		ID:     "ev-1",
		CaseID: "case-3",
		Title:  "Export archive",
	}
}

func newClient(baseURL string, opts ...inference.Option) *inference.Client {
	base := []inference.Option{
		inference.WithSleeper(func(time.Duration) {}),
	}
	return inference.NewClient(
		inference.Config{BaseURL: baseURL, APIKey: "key-1", Model: "integrity-v2"},
		append(base, opts...)...,
	)
}

func TestScoreIntegrity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/integrity/score" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["model"] != "integrity-v2" || payload["evidence_id"] != "ev-1" {
			t.Errorf("unexpected request payload: %v", payload)
		}
		_ = json.NewEncoder(w).Encode(inference.IntegrityScore{Confidence: 0.88, RiskLabel: "low"})
	}))
	defer server.Close()

	score, err := newClient(server.URL).ScoreIntegrity(context.Background(), testRecord(), "sha256:f1")
	if err != nil {
		t.Fatalf("ScoreIntegrity: %v", err)
	}
	if score.Confidence != 0.88 || score.RiskLabel != "low" {
		t.Fatalf("unexpected score: %+v", score)
	}
}

func TestScoreIntegrityRejectsOutOfRangeConfidence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(inference.IntegrityScore{Confidence: 1.4})
	}))
	defer server.Close()

	_, err := newClient(server.URL).ScoreIntegrity(context.Background(), testRecord(), "sha256:f1")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestAnalyzeValidatesScores(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/evidence/analyze" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(custody.AnalysisResult{
			AuthenticityScore: 0.9,
			CompletenessScore: 0.8,
			RelevanceScore:    0.7,
			RiskScore:         1.2,
		})
	}))
	defer server.Close()

	_, err := newClient(server.URL).Analyze(context.Background(), testRecord(), "sha256:f1", nil)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected out-of-range risk score to fail, got %v", err)
	}
}

func TestPostRetriesOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(inference.IntegrityScore{Confidence: 0.5, RiskLabel: "medium"})
	}))
	defer server.Close()

	score, err := newClient(server.URL).ScoreIntegrity(context.Background(), testRecord(), "sha256:f1")
	if err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if score.Confidence != 0.5 {
		t.Fatalf("unexpected score: %+v", score)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newClient(server.URL).ScoreIntegrity(context.Background(), testRecord(), "sha256:f1")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt for http 400, got %d", got)
	}
}

func TestRequestRequiresBaseURL(t *testing.T) {
	client := inference.NewClient(inference.Config{})
	_, err := client.ScoreIntegrity(context.Background(), testRecord(), "sha256:f1")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

package testsupport

import (
	"testing"
	"time"

	"custodia/internal/audit"
	"custodia/internal/config"
	"custodia/internal/custody"
)

// MustOpenStore opens an audit.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *audit.Store {
	t.Helper()

	store, err := audit.Open(cfg)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewEvidenceRecord builds a consistent evidence record for tests. The
// content digest is shaped like the repository's real digests so signature
// checks pass.
func NewEvidenceRecord(id string) *custody.EvidenceRecord {
	return &custody.EvidenceRecord{
		ID:            id,
		CaseID:        "case-001",
		Title:         "Server access logs",
		MediaType:     "text/plain",
		SizeBytes:     4096,
		StorageURI:    "s3://evidence/" + id,
		ContentDigest: "sha256:0f343b0931126a20f133d67c2b018a3b1f9b4e6ab9f1b0a26eabc35c1e7b5f3a",
		CollectedAt:   time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
	}
}

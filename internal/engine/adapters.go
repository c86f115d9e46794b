package engine

import (
	"context"

	"custodia/internal/custody"
	"custodia/internal/services/verifier"
)

// EvidenceRepository fetches authoritative evidence records. Calls are
// synchronous; implementations own their transport, timeouts, and retries.
type EvidenceRepository interface {
	Fetch(ctx context.Context, evidenceID string) (*custody.EvidenceRecord, error)
}

// IntegrityVerifier runs one verification pass over an evidence record.
type IntegrityVerifier interface {
	Verify(ctx context.Context, req verifier.Request) (*custody.VerificationResult, error)
}

// Analyzer performs the advisory content analysis. A nil analyzer means the
// workflow proceeds on manual review alone.
type Analyzer interface {
	Analyze(ctx context.Context, record *custody.EvidenceRecord, fingerprint string, history []string) (*custody.AnalysisResult, error)
}

// Package verifier implements the integrity verification adapter: four
// deterministic checks over the evidence record plus an optional advisory
// confidence score from the inference service.
package verifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/services/inference"
)

// Scorer is the advisory confidence source. It is optional; a nil scorer
// degrades verification to manual review.
type Scorer interface {
	ScoreIntegrity(ctx context.Context, record *custody.EvidenceRecord, fingerprint string) (*inference.IntegrityScore, error)
}

// Request carries the inputs of one verification pass.
type Request struct {
	Record              *custody.EvidenceRecord
	ExpectedFingerprint string
	ComputedFingerprint string
}

// Adapter runs the integrity checks.
type Adapter struct {
	scorer Scorer
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithClock overrides the timestamp-plausibility clock (used in tests).
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// New constructs a verification adapter. scorer may be nil when no inference
// service is configured.
func New(scorer Scorer, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		scorer: scorer,
		logger: logging.NewComponentLogger(logger, "verifier"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify runs the four deterministic checks and, when a scorer is available,
// attaches the advisory AI confidence. A scorer failure never fails the
// verification pass; the result simply carries no confidence value.
func (a *Adapter) Verify(ctx context.Context, req Request) (*custody.VerificationResult, error) {
	result := &custody.VerificationResult{
		HashMatch:      req.ComputedFingerprint == req.ExpectedFingerprint && req.ComputedFingerprint != "",
		MetadataIntact: metadataIntact(req.Record),
		TimestampValid: timestampPlausible(req.Record, a.now()),
		SignatureValid: signatureSound(req.Record),
	}

	if a.scorer == nil {
		return result, nil
	}

	score, err := a.scorer.ScoreIntegrity(ctx, req.Record, req.ComputedFingerprint)
	if err != nil {
		a.logger.Warn("advisory integrity score unavailable",
			logging.String(logging.FieldEvidenceID, req.Record.ID),
			logging.Error(err))
		return result, nil
	}
	confidence := score.Confidence
	result.AIConfidence = &confidence
	result.RiskLabel = score.RiskLabel
	return result, nil
}

func metadataIntact(record *custody.EvidenceRecord) bool {
	if record == nil {
		return false
	}
	return strings.TrimSpace(record.ID) != "" &&
		strings.TrimSpace(record.CaseID) != "" &&
		strings.TrimSpace(record.Title) != "" &&
		record.SizeBytes >= 0
}

func timestampPlausible(record *custody.EvidenceRecord, now time.Time) bool {
	if record == nil || record.CollectedAt.IsZero() {
		return false
	}
	// Collection clocks may drift slightly ahead of ours.
	return record.CollectedAt.Before(now.Add(5 * time.Minute))
}

func signatureSound(record *custody.EvidenceRecord) bool {
	if record == nil {
		return false
	}
	digest := strings.TrimSpace(record.ContentDigest)
	if digest == "" {
		return false
	}
	algo, value, found := strings.Cut(digest, ":")
	if !found {
		return false
	}
	return algo != "" && value != ""
}

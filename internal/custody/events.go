package custody

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one immutable, signed record of a workflow stage outcome.
// Events are causally ordered by their position in Instance.Events and are
// never reordered, mutated, or deleted after creation.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	ActorID   string          `json:"actor_id"`
	Details   json.RawMessage `json:"details"`
	Signature string          `json:"signature"`
}

// SigningPayload returns the canonical bytes the event signature covers:
// every field except the signature itself, as canonical JSON.
func (e Event) SigningPayload() ([]byte, error) {
	unsigned := Event{
		ID:        e.ID,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC(),
		ActorID:   e.ActorID,
		Details:   e.Details,
	}
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return payload, nil
}

// DecodeDetails unmarshals the stage-specific payload into out.
func (e Event) DecodeDetails(out any) error {
	if err := json.Unmarshal(e.Details, out); err != nil {
		return fmt.Errorf("decode %s event details: %w", e.Type, err)
	}
	return nil
}

// IntakeDetails is the payload of an intake event.
type IntakeDetails struct {
	EvidenceID          string          `json:"evidence_id"`
	CaseID              string          `json:"case_id"`
	ExpectedFingerprint string          `json:"expected_fingerprint"`
	ComputedFingerprint string          `json:"computed_fingerprint"`
	IntegrityStatus     IntegrityStatus `json:"integrity_status"`
	DurationMS          int64           `json:"duration_ms"`
}

// VerificationDetails is the payload of a verification event.
type VerificationDetails struct {
	Result           VerificationResult `json:"result"`
	IntegrityStatus  IntegrityStatus    `json:"integrity_status"`
	RequiresApproval bool               `json:"requires_approval"`
	DurationMS       int64              `json:"duration_ms"`
}

// AnalysisDetails is the payload of an analysis event.
type AnalysisDetails struct {
	Result     *AnalysisResult `json:"result,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// TransferDetails is the payload of a transfer event.
type TransferDetails struct {
	FromCustodian     string   `json:"from_custodian"`
	ToCustodian       string   `json:"to_custodian"`
	Reason            string   `json:"reason"`
	IntegrityVerified bool     `json:"integrity_verified"`
	WitnessSignatures []string `json:"witness_signatures,omitempty"`
	DurationMS        int64    `json:"duration_ms"`
}

// ApprovalDetails is the payload of an approval event.
type ApprovalDetails struct {
	Decision   ApprovalStatus `json:"decision"`
	Reason     string         `json:"reason,omitempty"`
	DurationMS int64          `json:"duration_ms"`
}

// AnalysisSummary condenses the analysis result for the final report.
type AnalysisSummary struct {
	AuthenticityScore float64 `json:"authenticity_score"`
	CompletenessScore float64 `json:"completeness_score"`
	RelevanceScore    float64 `json:"relevance_score"`
	RiskScore         float64 `json:"risk_score"`
	RiskLevel         string  `json:"risk_level"`
	Recommendations   int     `json:"recommendations"`
	Anomalies         int     `json:"anomalies"`
}

// CollaborationSummary condenses session activity for the final report.
type CollaborationSummary struct {
	Participants      int   `json:"participants"`
	Annotations       int   `json:"annotations"`
	SessionDurationMS int64 `json:"session_duration_ms"`
}

// FinalizationDetails is the payload of a finalization event. It carries
// everything the report fold needs beyond the earlier events themselves.
type FinalizationDetails struct {
	IntegrityStatus  IntegrityStatus      `json:"integrity_status"`
	FinalFingerprint string               `json:"final_fingerprint"`
	Analysis         *AnalysisSummary     `json:"analysis,omitempty"`
	Collaboration    CollaborationSummary `json:"collaboration"`
	TotalDurationMS  int64                `json:"total_duration_ms"`
	Forced           bool                 `json:"forced,omitempty"`
	DurationMS       int64                `json:"duration_ms"`
}

// SummarizeAnalysis converts a full analysis result into its report summary.
func SummarizeAnalysis(result *AnalysisResult) *AnalysisSummary {
	if result == nil {
		return nil
	}
	return &AnalysisSummary{
		AuthenticityScore: result.AuthenticityScore,
		CompletenessScore: result.CompletenessScore,
		RelevanceScore:    result.RelevanceScore,
		RiskScore:         result.RiskScore,
		RiskLevel:         result.RiskLevel,
		Recommendations:   len(result.Recommendations),
		Anomalies:         len(result.Anomalies),
	}
}

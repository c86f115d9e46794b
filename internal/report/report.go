// Package report derives the final custody report from a workflow's event
// log. Build is a pure fold over the events: given the same chain it always
// produces the same report, byte for byte.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"custodia/internal/custody"
)

// Report is the durable, queryable output of a completed custody workflow.
type Report struct {
	EvidenceID       string                        `json:"evidence_id"`
	CaseID           string                        `json:"case_id"`
	EventCount       int                           `json:"event_count"`
	IntegrityStatus  custody.IntegrityStatus       `json:"integrity_status"`
	FinalFingerprint string                        `json:"final_fingerprint"`
	Analysis         *custody.AnalysisSummary      `json:"analysis,omitempty"`
	Collaboration    custody.CollaborationSummary  `json:"collaboration"`
	StageTimingsMS   map[string]int64              `json:"stage_timings_ms"`
	TotalDurationMS  int64                         `json:"total_duration_ms"`
	Transfers        int                           `json:"transfers"`
	ForcedCompletion bool                          `json:"forced_completion,omitempty"`
	FinalizedBy      string                        `json:"finalized_by"`
	FinalizedAt      time.Time                     `json:"finalized_at"`
}

// Build folds an event chain into the custody report. The chain must end in
// exactly one finalization event; everything in the report derives from the
// events alone so replaying the same chain reproduces the same report.
func Build(events []custody.Event) (*Report, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("cannot build report from empty event log")
	}

	r := &Report{
		EventCount:     len(events),
		StageTimingsMS: make(map[string]int64),
	}

	var finalized bool
	for _, event := range events {
		switch event.Type {
		case custody.EventIntake:
			var details custody.IntakeDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.EvidenceID = details.EvidenceID
			r.CaseID = details.CaseID
			r.StageTimingsMS[string(custody.StageIntake)] += details.DurationMS
		case custody.EventVerification:
			var details custody.VerificationDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.StageTimingsMS[string(custody.StageVerification)] += details.DurationMS
		case custody.EventAnalysis:
			var details custody.AnalysisDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.StageTimingsMS[string(custody.StageAnalysis)] += details.DurationMS
		case custody.EventTransfer:
			var details custody.TransferDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.Transfers++
			r.StageTimingsMS[string(custody.StageCustodyTransfer)] += details.DurationMS
		case custody.EventApproval:
			var details custody.ApprovalDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.StageTimingsMS[string(custody.StageAwaitingApproval)] += details.DurationMS
		case custody.EventFinalization:
			if finalized {
				return nil, fmt.Errorf("event log contains more than one finalization event")
			}
			finalized = true
			var details custody.FinalizationDetails
			if err := event.DecodeDetails(&details); err != nil {
				return nil, err
			}
			r.IntegrityStatus = details.IntegrityStatus
			r.FinalFingerprint = details.FinalFingerprint
			r.Analysis = details.Analysis
			r.Collaboration = details.Collaboration
			r.TotalDurationMS = details.TotalDurationMS
			r.ForcedCompletion = details.Forced
			r.FinalizedBy = event.ActorID
			r.FinalizedAt = event.Timestamp.UTC()
			r.StageTimingsMS[string(custody.StageFinalization)] += details.DurationMS
		default:
			return nil, fmt.Errorf("unknown event type %q", event.Type)
		}
	}

	if !finalized {
		return nil, fmt.Errorf("event log has no finalization event")
	}
	return r, nil
}

// Marshal serializes the report canonically.
func (r *Report) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a persisted report.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}

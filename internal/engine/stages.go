package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/services"
	"custodia/internal/services/verifier"
	"custodia/internal/signing"
)

// lowConfidenceThreshold is the advisory score below which verified evidence
// is still flagged for manual attention.
const lowConfidenceThreshold = 0.7

// runPipeline advances the instance through the automated stages starting at
// from. It parks at collaboration and awaiting_approval, which only commands
// leave. Callers hold the workflow lock. Stage failures route the instance to
// the error stage instead of surfacing.
func (e *Engine) runPipeline(ctx context.Context, wf *Workflow, from custody.Stage, actorID string) {
	inst := wf.inst
	for stage := from; ; {
		started := e.now()
		eventsBefore := len(inst.Events)
		inst.EnterStage(stage, started)

		var (
			err  error
			next custody.Stage
			park bool
		)
		switch stage {
		case custody.StageIntake:
			err = e.runIntake(ctx, wf, started)
			next = custody.StageVerification
		case custody.StageVerification:
			err = e.runVerification(ctx, wf, started)
			next = custody.StageAnalysis
		case custody.StageAnalysis:
			e.runAnalysis(ctx, wf, started, actorID)
			next = custody.StageCollaboration
		case custody.StageCollaboration:
			wf.syncCollaboration()
			park = true
		case custody.StageAwaitingApproval:
			inst.ApprovalStatus = custody.ApprovalPending
			reason := fmt.Sprintf("integrity status is %s", inst.IntegrityStatus)
			if nerr := e.notifier.NotifyApprovalRequired(ctx, inst.EvidenceID, reason); nerr != nil {
				e.logger.Warn("approval notification failed", logging.Error(nerr))
			}
			park = true
		case custody.StageFinalization:
			err = e.runFinalization(ctx, wf, started, actorID)
			park = true
		default:
			err = services.Wrap(services.ErrConfiguration, string(stage), "pipeline", "stage is not runnable", nil)
			park = true
		}

		switch stage {
		case custody.StageCollaboration, custody.StageAwaitingApproval:
		default:
			inst.RecordDuration(stage, e.now().Sub(started))
		}

		if err != nil {
			e.handleStageFailure(ctx, wf, stage, err)
			return
		}
		if perr := e.persist(ctx, inst); perr != nil {
			// The events appended this pass never became durable. Drop them so
			// the retry's re-run appends exactly one event for the stage.
			inst.Events = inst.Events[:eventsBefore]
			e.handleStageFailure(ctx, wf, stage, perr)
			return
		}
		e.logger.Info("stage complete",
			logging.String(logging.FieldWorkflowID, inst.ID),
			logging.String(logging.FieldStage, string(inst.Stage)),
			logging.Int("progress", inst.Progress))
		if park {
			return
		}
		stage = next
	}
}

// runIntake fetches the authoritative evidence record, computes its current
// fingerprint, and compares it against the fingerprint the caller expected.
// A mismatch marks the evidence compromised right away; verification then
// confirms it against the same baseline.
func (e *Engine) runIntake(ctx context.Context, wf *Workflow, started time.Time) error {
	inst := wf.inst

	callCtx, cancel := e.adapterContext(ctx)
	record, err := e.evidence.Fetch(callCtx, inst.EvidenceID)
	cancel()
	if err != nil {
		return err
	}

	fingerprint, err := signing.Fingerprint(record)
	if err != nil {
		return services.Wrap(services.ErrTransient, "intake", "fingerprint", "compute evidence fingerprint", err)
	}

	inst.Evidence = record
	if inst.CaseID == "" {
		inst.CaseID = record.CaseID
	}
	inst.CurrentFingerprint = fingerprint

	status := custody.IntegrityVerified
	if fingerprint != inst.OriginalFingerprint {
		status = custody.IntegrityCompromised
	}
	inst.IntegrityStatus = status

	return e.appendEvent(inst, custody.EventIntake, inst.InitiatedBy, custody.IntakeDetails{
		EvidenceID:          record.ID,
		CaseID:              record.CaseID,
		ExpectedFingerprint: inst.OriginalFingerprint,
		ComputedFingerprint: fingerprint,
		IntegrityStatus:     status,
		DurationMS:          e.now().Sub(started).Milliseconds(),
	})
}

// runVerification refetches the record, recomputes its fingerprint, and runs
// the integrity checks against the caller's expected fingerprint.
func (e *Engine) runVerification(ctx context.Context, wf *Workflow, started time.Time) error {
	return e.verifyOnce(ctx, wf, started, wf.inst.InitiatedBy)
}

// verifyOnce is one full verification pass. It is shared between the pipeline
// stage and the on-demand re-verification command.
func (e *Engine) verifyOnce(ctx context.Context, wf *Workflow, started time.Time, actorID string) error {
	inst := wf.inst

	callCtx, cancel := e.adapterContext(ctx)
	record, err := e.evidence.Fetch(callCtx, inst.EvidenceID)
	cancel()
	if err != nil {
		return err
	}

	fingerprint, err := signing.Fingerprint(record)
	if err != nil {
		return services.Wrap(services.ErrTransient, "verification", "fingerprint", "compute evidence fingerprint", err)
	}

	callCtx, cancel = e.adapterContext(ctx)
	result, err := e.verifier.Verify(callCtx, verifier.Request{
		Record:              record,
		ExpectedFingerprint: inst.OriginalFingerprint,
		ComputedFingerprint: fingerprint,
	})
	cancel()
	if err != nil {
		return err
	}

	status := combineStatus(result)
	inst.Evidence = record
	inst.CurrentFingerprint = fingerprint
	inst.Verification = result
	inst.IntegrityStatus = status
	if status == custody.IntegrityCompromised {
		inst.RequiresApproval = true
	}

	if err := e.appendEvent(inst, custody.EventVerification, actorID, custody.VerificationDetails{
		Result:           *result,
		IntegrityStatus:  status,
		RequiresApproval: inst.RequiresApproval,
		DurationMS:       e.now().Sub(started).Milliseconds(),
	}); err != nil {
		return err
	}

	if nerr := e.notifier.NotifyVerificationCompleted(ctx, inst.EvidenceID, string(status)); nerr != nil {
		e.logger.Warn("verification notification failed", logging.Error(nerr))
	}
	return nil
}

// combineStatus folds the check results into one integrity verdict. The
// deterministic checks decide compromised on their own; the advisory score
// can only demote a clean result to requires_attention, never mask a failure.
func combineStatus(result *custody.VerificationResult) custody.IntegrityStatus {
	if !result.HashMatch || !result.MetadataIntact {
		return custody.IntegrityCompromised
	}
	if !result.TimestampValid || !result.SignatureValid {
		return custody.IntegrityRequiresAttention
	}
	if result.AIConfidence == nil || *result.AIConfidence < lowConfidenceThreshold {
		return custody.IntegrityRequiresAttention
	}
	return custody.IntegrityVerified
}

// runAnalysis requests the advisory content analysis. Analysis is never
// fatal: a failure leaves a warning on the instance and the workflow moves
// on to manual review with no analysis event recorded.
func (e *Engine) runAnalysis(ctx context.Context, wf *Workflow, started time.Time, actorID string) {
	inst := wf.inst
	if e.analyzer == nil {
		e.logger.Debug("no analysis service configured, skipping",
			logging.String(logging.FieldWorkflowID, inst.ID))
		return
	}

	callCtx, cancel := e.adapterContext(ctx)
	result, err := e.analyzer.Analyze(callCtx, inst.Evidence, inst.CurrentFingerprint, nil)
	cancel()
	if err != nil {
		inst.AddWarning("AI analysis failed, proceeding with manual review")
		details := services.Details(err)
		e.logger.Warn("analysis failed, continuing with manual review",
			logging.String(logging.FieldWorkflowID, inst.ID),
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.Error(err))
		return
	}

	inst.Analysis = result
	if err := e.appendEvent(inst, custody.EventAnalysis, actorID, custody.AnalysisDetails{
		Result:     result,
		DurationMS: e.now().Sub(started).Milliseconds(),
	}); err != nil {
		inst.Analysis = nil
		inst.AddWarning("AI analysis failed, proceeding with manual review")
		e.logger.Warn("analysis event could not be recorded", logging.Error(err))
	}
}

func marshalDetails(details any) (json.RawMessage, error) {
	payload, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal event details: %w", err)
	}
	return payload, nil
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/services"
)

// JoinCollaboration adds a reviewer to the collaboration session. Joining
// again with a new role updates the existing participant in place.
func (w *Workflow) JoinCollaboration(ctx context.Context, userID, role string) (custody.Participant, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("join collaboration", custody.StageCollaboration); err != nil {
		return custody.Participant{}, err
	}
	participant, err := w.session.Join(userID, role, w.engine.now())
	if err != nil {
		return custody.Participant{}, services.Wrap(services.ErrValidation, "collaboration", "join", "", err)
	}
	w.syncCollaboration()
	if err := w.engine.persist(ctx, w.inst); err != nil {
		return custody.Participant{}, err
	}
	return participant, nil
}

// LeaveCollaboration removes a reviewer from the session. It reports whether
// the user was a participant.
func (w *Workflow) LeaveCollaboration(ctx context.Context, userID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("leave collaboration", custody.StageCollaboration); err != nil {
		return false, err
	}
	left := w.session.Leave(strings.TrimSpace(userID))
	if !left {
		return false, nil
	}
	w.syncCollaboration()
	if err := w.engine.persist(ctx, w.inst); err != nil {
		return false, err
	}
	return true, nil
}

// AddAnnotation records a reviewer note against the evidence.
func (w *Workflow) AddAnnotation(ctx context.Context, userID, content, position string) (custody.Annotation, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("annotate", custody.StageCollaboration); err != nil {
		return custody.Annotation{}, err
	}
	annotation, err := w.session.Annotate(userID, content, position, w.engine.now())
	if err != nil {
		return custody.Annotation{}, services.Wrap(services.ErrValidation, "collaboration", "annotate", "", err)
	}
	w.syncCollaboration()
	if err := w.engine.persist(ctx, w.inst); err != nil {
		return custody.Annotation{}, err
	}
	return annotation, nil
}

// PostMessage records a chat entry in the collaboration session.
func (w *Workflow) PostMessage(ctx context.Context, userID, body string) (custody.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("post message", custody.StageCollaboration); err != nil {
		return custody.Message{}, err
	}
	message, err := w.session.PostMessage(userID, body, w.engine.now())
	if err != nil {
		return custody.Message{}, services.Wrap(services.ErrValidation, "collaboration", "message", "", err)
	}
	w.syncCollaboration()
	if err := w.engine.persist(ctx, w.inst); err != nil {
		return custody.Message{}, err
	}
	return message, nil
}

// VerifyIntegrity re-runs the integrity checks on demand during review. The
// verdict replaces the current status; an approval requirement raised by an
// earlier pass is never cleared.
func (w *Workflow) VerifyIntegrity(ctx context.Context, actorID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("verify integrity", custody.StageCollaboration); err != nil {
		return err
	}
	e := w.engine
	started := e.now()
	if err := e.verifyOnce(ctx, w, started, strings.TrimSpace(actorID)); err != nil {
		return err
	}
	w.inst.RecordDuration(custody.StageVerification, e.now().Sub(started))
	return e.persist(ctx, w.inst)
}

// StartAnalysis re-requests the advisory content analysis during review,
// typically after an earlier automated attempt failed. Unlike the pipeline
// stage, a failure here surfaces to the caller.
func (w *Workflow) StartAnalysis(ctx context.Context, actorID string) (*custody.AnalysisResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("start analysis", custody.StageCollaboration); err != nil {
		return nil, err
	}
	e := w.engine
	if e.analyzer == nil {
		return nil, services.Wrap(services.ErrConfiguration, "analysis", "start", "no analysis service configured", nil)
	}

	started := e.now()
	callCtx, cancel := e.adapterContext(ctx)
	result, err := e.analyzer.Analyze(callCtx, w.inst.Evidence, w.inst.CurrentFingerprint, nil)
	cancel()
	if err != nil {
		return nil, err
	}

	w.inst.Analysis = result
	if err := e.appendEvent(w.inst, custody.EventAnalysis, strings.TrimSpace(actorID), custody.AnalysisDetails{
		Result:     result,
		DurationMS: e.now().Sub(started).Milliseconds(),
	}); err != nil {
		return nil, err
	}
	w.inst.RecordDuration(custody.StageAnalysis, e.now().Sub(started))
	if err := e.persist(ctx, w.inst); err != nil {
		return nil, err
	}
	return result, nil
}

// TransferCustody hands the evidence to a new custodian and records the
// transfer in the audit trail. The destination and reason are both required;
// a rejected transfer leaves the instance untouched.
func (w *Workflow) TransferCustody(ctx context.Context, toCustodian, reason string, witnesses []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("transfer custody", custody.StageCollaboration); err != nil {
		return err
	}
	toCustodian = strings.TrimSpace(toCustodian)
	reason = strings.TrimSpace(reason)
	if toCustodian == "" {
		return services.Wrap(services.ErrValidation, "custody_transfer", "transfer", "destination custodian must not be empty", nil)
	}
	if reason == "" {
		return services.Wrap(services.ErrValidation, "custody_transfer", "transfer", "transfer reason must not be empty", nil)
	}

	e := w.engine
	inst := w.inst
	started := e.now()
	inst.EnterStage(custody.StageCustodyTransfer, started)

	from := inst.CurrentCustodian
	inst.PreviousCustodian = from
	inst.CurrentCustodian = toCustodian

	if err := e.appendEvent(inst, custody.EventTransfer, from, custody.TransferDetails{
		FromCustodian:     from,
		ToCustodian:       toCustodian,
		Reason:            reason,
		IntegrityVerified: inst.IntegrityStatus == custody.IntegrityVerified,
		WitnessSignatures: witnesses,
		DurationMS:        e.now().Sub(started).Milliseconds(),
	}); err != nil {
		return err
	}
	inst.RecordDuration(custody.StageCustodyTransfer, e.now().Sub(started))

	// Review continues with the new custodian.
	inst.EnterStage(custody.StageCollaboration, e.now())
	if err := e.persist(ctx, inst); err != nil {
		return err
	}

	e.logger.Info("custody transferred",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String("from_custodian", from),
		logging.String("to_custodian", toCustodian))
	if nerr := e.notifier.NotifyCustodyTransferred(ctx, inst.EvidenceID, from, toCustodian); nerr != nil {
		e.logger.Warn("transfer notification failed", logging.Error(nerr))
	}
	return nil
}

// CompleteReview concludes the collaboration stage. Workflows whose evidence
// was flagged as compromised route to the approval gate; the rest finalize
// immediately.
func (w *Workflow) CompleteReview(ctx context.Context, actorID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("complete review", custody.StageCollaboration); err != nil {
		return err
	}
	next := custody.StageFinalization
	if w.inst.RequiresApproval {
		next = custody.StageAwaitingApproval
	}
	w.engine.runPipeline(ctx, w, next, strings.TrimSpace(actorID))
	return nil
}

// Approve clears the approval gate and finalizes the workflow.
func (w *Workflow) Approve(ctx context.Context, actorID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("approve", custody.StageAwaitingApproval); err != nil {
		return err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return services.Wrap(services.ErrValidation, "awaiting_approval", "approve", "approver id must not be empty", nil)
	}

	e := w.engine
	w.inst.ApprovalStatus = custody.ApprovalApproved
	if err := e.appendEvent(w.inst, custody.EventApproval, actorID, custody.ApprovalDetails{
		Decision: custody.ApprovalApproved,
		Reason:   strings.TrimSpace(reason),
	}); err != nil {
		return err
	}
	e.runPipeline(ctx, w, custody.StageFinalization, actorID)
	return nil
}

// Reject denies the approval gate and terminates the workflow. A rejection
// reason is required for the audit trail.
func (w *Workflow) Reject(ctx context.Context, actorID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("reject", custody.StageAwaitingApproval); err != nil {
		return err
	}
	actorID = strings.TrimSpace(actorID)
	reason = strings.TrimSpace(reason)
	if actorID == "" {
		return services.Wrap(services.ErrValidation, "awaiting_approval", "reject", "approver id must not be empty", nil)
	}
	if reason == "" {
		return services.Wrap(services.ErrValidation, "awaiting_approval", "reject", "rejection reason must not be empty", nil)
	}

	e := w.engine
	inst := w.inst
	inst.ApprovalStatus = custody.ApprovalRejected
	if err := e.appendEvent(inst, custody.EventApproval, actorID, custody.ApprovalDetails{
		Decision: custody.ApprovalRejected,
		Reason:   reason,
	}); err != nil {
		return err
	}

	w.session.Close()
	w.syncCollaboration()
	inst.EnterStage(custody.StageRejected, e.now())
	if err := e.persist(ctx, inst); err != nil {
		return err
	}

	e.logger.Info("workflow rejected",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String("rejected_by", actorID))
	if nerr := e.notifier.NotifyWorkflowCompleted(ctx, inst.EvidenceID, "rejected"); nerr != nil {
		e.logger.Warn("rejection notification failed", logging.Error(nerr))
	}
	return nil
}

// Retry re-runs the failed stage. Once the retry budget is exhausted the
// workflow moves to the terminal failed stage instead.
func (w *Workflow) Retry(ctx context.Context, actorID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("retry", custody.StageError); err != nil {
		return err
	}
	e := w.engine
	inst := w.inst

	if inst.RetryCount >= inst.MaxRetries {
		w.session.Close()
		w.syncCollaboration()
		inst.EnterStage(custody.StageFailed, e.now())
		if err := e.persist(ctx, inst); err != nil {
			return err
		}
		e.logger.Error("retry budget exhausted",
			logging.String(logging.FieldWorkflowID, inst.ID),
			logging.Int("retry_count", inst.RetryCount))
		if nerr := e.notifier.NotifyWorkflowCompleted(ctx, inst.EvidenceID, "failed"); nerr != nil {
			e.logger.Warn("failure notification failed", logging.Error(nerr))
		}
		return nil
	}

	from := inst.FailedStage
	if from == "" {
		from = custody.StageIntake
	}
	inst.FailedStage = ""
	inst.ClearError()
	priorWarnings := len(inst.Warnings)
	e.logger.Info("retrying failed stage",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String(logging.FieldStage, string(from)),
		logging.Int("retry_count", inst.RetryCount))
	e.runPipeline(ctx, w, from, strings.TrimSpace(actorID))
	if inst.Stage == custody.StageError {
		return nil
	}

	// The retry succeeded. Warnings from the failed attempts are stale now;
	// only those recorded during this run stay.
	inst.Warnings = inst.Warnings[priorWarnings:]
	if len(inst.Warnings) == 0 {
		inst.Warnings = nil
	}
	return e.persist(ctx, inst)
}

// ForceComplete is the operator escape hatch for a workflow stuck in the
// error stage: it finalizes immediately instead of retrying. The report and
// finalization event record the override.
func (w *Workflow) ForceComplete(ctx context.Context, actorID, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureStage("force complete", custody.StageError); err != nil {
		return err
	}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return services.Wrap(services.ErrValidation, string(w.inst.Stage), "force complete", "actor id must not be empty", nil)
	}

	w.inst.ForceCompleted = true
	if reason = strings.TrimSpace(reason); reason != "" {
		w.inst.AddWarning("force completed: " + reason)
	}
	w.engine.runPipeline(ctx, w, custody.StageFinalization, actorID)
	return nil
}

// Cancel terminates the workflow without a report.
func (w *Workflow) Cancel(ctx context.Context, actorID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureActive("cancel"); err != nil {
		return err
	}
	e := w.engine
	inst := w.inst

	w.session.Close()
	w.syncCollaboration()
	inst.EnterStage(custody.StageCancelled, e.now())
	if err := e.persist(ctx, inst); err != nil {
		return err
	}

	e.logger.Info("workflow cancelled",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String("cancelled_by", strings.TrimSpace(actorID)))
	if nerr := e.notifier.NotifyWorkflowCompleted(ctx, inst.EvidenceID, "cancelled"); nerr != nil {
		e.logger.Warn("cancellation notification failed", logging.Error(nerr))
	}
	return nil
}

func (w *Workflow) ensureActive(operation string) error {
	if w.inst.IsTerminal() {
		return services.Wrap(services.ErrValidation, string(w.inst.Stage), operation,
			fmt.Sprintf("workflow %s is %s and no longer accepts commands", w.inst.ID, w.inst.Stage), nil)
	}
	return nil
}

func (w *Workflow) ensureStage(operation string, stages ...custody.Stage) error {
	if err := w.ensureActive(operation); err != nil {
		return err
	}
	for _, stage := range stages {
		if w.inst.Stage == stage {
			return nil
		}
	}
	allowed := make([]string, len(stages))
	for i, stage := range stages {
		allowed[i] = string(stage)
	}
	return services.Wrap(services.ErrValidation, string(w.inst.Stage), operation,
		fmt.Sprintf("requires stage %s, workflow is in %s", strings.Join(allowed, " or "), w.inst.Stage), nil)
}

package engine

import (
	"context"
	"time"

	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/report"
	"custodia/internal/services"
)

// runFinalization seals the workflow: it closes the collaboration session,
// appends the finalization event, folds the event chain into the custody
// report, and moves the instance to completed. A failed run leaves the
// already-appended finalization event in place so a retry does not duplicate
// it.
func (e *Engine) runFinalization(ctx context.Context, wf *Workflow, started time.Time, actorID string) error {
	inst := wf.inst
	now := e.now().UTC()

	sessionDuration := wf.session.Duration(now)
	wf.session.Close()
	wf.syncCollaboration()

	if !hasFinalizationEvent(inst.Events) {
		details := custody.FinalizationDetails{
			IntegrityStatus:  inst.IntegrityStatus,
			FinalFingerprint: inst.CurrentFingerprint,
			Analysis:         custody.SummarizeAnalysis(inst.Analysis),
			Collaboration: custody.CollaborationSummary{
				Participants:      len(inst.Collaboration.Participants),
				Annotations:       len(inst.Collaboration.Annotations),
				SessionDurationMS: sessionDuration.Milliseconds(),
			},
			TotalDurationMS: now.Sub(inst.StartedAt).Milliseconds(),
			Forced:          inst.ForceCompleted,
			DurationMS:      now.Sub(started).Milliseconds(),
		}
		if err := e.appendEvent(inst, custody.EventFinalization, actorID, details); err != nil {
			return err
		}
	}

	rep, err := report.Build(inst.Events)
	if err != nil {
		return services.Wrap(services.ErrTransient, "finalization", "report", "build custody report", err)
	}
	encoded, err := rep.Marshal()
	if err != nil {
		return services.Wrap(services.ErrTransient, "finalization", "report", "encode custody report", err)
	}
	if err := e.store.SaveReport(ctx, inst.ID, encoded); err != nil {
		return services.Wrap(services.ErrTransient, "finalization", "report", "persist custody report", err)
	}

	inst.EnterStage(custody.StageCompleted, e.now())

	outcome := "completed"
	if inst.ForceCompleted {
		outcome = "force completed"
	}
	if nerr := e.notifier.NotifyWorkflowCompleted(ctx, inst.EvidenceID, outcome); nerr != nil {
		e.logger.Warn("completion notification failed", logging.Error(nerr))
	}
	return nil
}

func hasFinalizationEvent(events []custody.Event) bool {
	for _, event := range events {
		if event.Type == custody.EventFinalization {
			return true
		}
	}
	return false
}

package engine

import (
	"context"
	"fmt"
	"strings"

	"custodia/internal/custody"
	"custodia/internal/logging"
	"custodia/internal/services"
)

// handleStageFailure records a stage failure and parks the instance in the
// error stage. The retry count increments up to the configured maximum;
// whether another attempt happens is decided when Retry is issued. Callers
// hold the workflow lock.
func (e *Engine) handleStageFailure(ctx context.Context, wf *Workflow, stage custody.Stage, stageErr error) {
	inst := wf.inst

	details := services.Details(stageErr)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = fmt.Sprintf("%s failed without error detail", stage)
	}

	if inst.RetryCount < inst.MaxRetries {
		inst.RetryCount++
	}
	inst.SetError(stage, message, e.now())

	e.logger.Error("stage failed",
		logging.String(logging.FieldWorkflowID, inst.ID),
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.Int("retry_count", inst.RetryCount),
		logging.Int("max_retries", inst.MaxRetries),
		logging.Error(stageErr))

	if err := e.persist(ctx, inst); err != nil {
		e.logger.Error("failed to persist stage failure",
			logging.String(logging.FieldWorkflowID, inst.ID),
			logging.Error(err))
	}

	if nerr := e.notifier.NotifyError(ctx, stageErr, fmt.Sprintf("%s stage for %s", stage, inst.EvidenceID)); nerr != nil {
		e.logger.Warn("error notification failed", logging.Error(nerr))
	}
}

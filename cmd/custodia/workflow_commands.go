package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"custodia/internal/custody"
	"custodia/internal/engine"
	"custodia/internal/services"
)

// resolveWorkflow accepts either a workflow identifier or an evidence
// identifier and returns the matching handle.
func resolveWorkflow(ctx context.Context, eng *engine.Engine, ref string) (*engine.Workflow, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("workflow or evidence id is required")
	}
	wf, err := eng.Resume(ctx, ref)
	if err == nil {
		return wf, nil
	}
	if !errors.Is(err, services.ErrNotFound) {
		return nil, err
	}
	wf, err = eng.FindByEvidence(ctx, ref)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("no workflow matches %q", ref)
		}
		return nil, err
	}
	return wf, nil
}

func currentActor(flagValue string) string {
	if actor := strings.TrimSpace(flagValue); actor != "" {
		return actor
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "operator"
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	var caseID string
	var actor string
	var fingerprint string

	cmd := &cobra.Command{
		Use:   "start <evidence-id>",
		Short: "Start a custody workflow for an evidence item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(fingerprint) == "" {
				return errors.New("--fingerprint is required: pass the fingerprint the evidence is expected to carry")
			}
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := eng.Start(runCtx, args[0], caseID, currentActor(actor), fingerprint)
				if err != nil {
					return err
				}
				snapshot, err := wf.Snapshot()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Workflow %s started for evidence %s\n", snapshot.ID, snapshot.EvidenceID)
				printWorkflowStatus(cmd, snapshot)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&caseID, "case", "", "Case identifier (defaults to the evidence record's case)")
	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	cmd.Flags().StringVar(&fingerprint, "fingerprint", "", "Expected evidence fingerprint, e.g. sha256:<hex>")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <workflow-or-evidence-id>",
		Short: "Show the state of a custody workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				snapshot, err := wf.Snapshot()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, snapshot)
				}
				printWorkflowStatus(cmd, snapshot)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full instance snapshot as JSON")
	return cmd
}

func printWorkflowStatus(cmd *cobra.Command, inst *custody.Instance) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	rows := [][]string{
		{"Workflow", inst.ID},
		{"Evidence", inst.EvidenceID},
		{"Case", inst.CaseID},
		{"Stage", colorizeStage(inst.Stage, stageLabel(inst.Stage), colorize)},
		{"Progress", strconv.Itoa(inst.Progress) + "%"},
		{"Integrity", integrityLabel(inst.IntegrityStatus)},
		{"Custodian", inst.CurrentCustodian},
		{"Requires approval", yesNo(inst.RequiresApproval)},
		{"Retries", fmt.Sprintf("%d/%d", inst.RetryCount, inst.MaxRetries)},
		{"Events", strconv.Itoa(len(inst.Events))},
	}
	if inst.ApprovalStatus != custody.ApprovalNone {
		rows = append(rows, []string{"Approval", string(inst.ApprovalStatus)})
	}
	if inst.ErrorMessage != "" {
		rows = append(rows, []string{"Error", inst.ErrorMessage})
	}
	for _, warning := range inst.Warnings {
		rows = append(rows, []string{"Warning", warning})
	}

	fmt.Fprintln(out, fieldTable(rows))
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var stageFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List custody workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				var stages []custody.Stage
				if trimmed := strings.TrimSpace(stageFilter); trimmed != "" {
					for _, part := range strings.Split(trimmed, ",") {
						stage, ok := custody.ParseStage(part)
						if !ok {
							return fmt.Errorf("unknown stage %q", part)
						}
						stages = append(stages, stage)
					}
				}

				summaries, err := eng.Store().List(runCtx, stages...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, summaries)
				}

				out := cmd.OutOrStdout()
				if len(summaries) == 0 {
					fmt.Fprintln(out, "No workflows found")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(summaries))
				for _, summary := range summaries {
					rows = append(rows, []string{
						summary.ID,
						summary.EvidenceID,
						summary.CaseID,
						colorizeStage(summary.Stage, stageLabel(summary.Stage), colorize),
						strconv.Itoa(summary.Progress) + "%",
						integrityLabel(summary.IntegrityStatus),
						summary.CurrentCustodian,
					})
				}
				fmt.Fprintln(out, summaryTable(
					[]string{"Workflow", "Evidence", "Case", "Stage", "Progress", "Integrity", "Custodian"},
					rows,
					"Progress",
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stageFilter, "stage", "", "Comma-separated stage filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit summaries as JSON")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "retry <workflow-or-evidence-id>",
		Short: "Retry the failed stage of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.Retry(runCtx, currentActor(actor)); err != nil {
					return err
				}
				snapshot, err := wf.Snapshot()
				if err != nil {
					return err
				}
				printWorkflowStatus(cmd, snapshot)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	return cmd
}

func newForceCompleteCommand(ctx *commandContext) *cobra.Command {
	var actor string
	var reason string

	cmd := &cobra.Command{
		Use:   "force-complete <workflow-or-evidence-id>",
		Short: "Finalize a workflow immediately, recording the override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.ForceComplete(runCtx, currentActor(actor), reason); err != nil {
					return err
				}
				snapshot, err := wf.Snapshot()
				if err != nil {
					return err
				}
				printWorkflowStatus(cmd, snapshot)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the workflow is being force completed")
	return cmd
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "cancel <workflow-or-evidence-id>",
		Short: "Cancel an active workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.Cancel(runCtx, currentActor(actor)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s cancelled\n", wf.ID())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	return cmd
}

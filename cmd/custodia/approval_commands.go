package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"custodia/internal/engine"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var actor string
	var reason string

	cmd := &cobra.Command{
		Use:   "approve <workflow-or-evidence-id>",
		Short: "Approve a workflow waiting at the approval gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.Approve(runCtx, currentActor(actor), reason); err != nil {
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

	cmd.Flags().StringVar(&actor, "actor", "", "Approving user id (defaults to $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "Optional approval note")
	return cmd
}

func newRejectCommand(ctx *commandContext) *cobra.Command {
	var actor string
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <workflow-or-evidence-id>",
		Short: "Reject a workflow waiting at the approval gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.Reject(runCtx, currentActor(actor), reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s rejected\n", wf.ID())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Rejecting user id (defaults to $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason (required)")
	return cmd
}

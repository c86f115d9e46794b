package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"custodia/internal/engine"
)

func newJoinCommand(ctx *commandContext) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "join <workflow-or-evidence-id> <user-id>",
		Short: "Join the collaborative review session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				participant, err := wf.JoinCollaboration(runCtx, args[1], role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s joined review of workflow %s as %s\n",
					participant.UserID, wf.ID(), displayRole(participant.Role))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "reviewer", "Participant role")
	return cmd
}

func displayRole(role string) string {
	if role == "" {
		return "reviewer"
	}
	return role
}

func newLeaveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <workflow-or-evidence-id> <user-id>",
		Short: "Leave the collaborative review session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				left, err := wf.LeaveCollaboration(runCtx, args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !left {
					fmt.Fprintf(out, "%s is not a participant of workflow %s\n", args[1], wf.ID())
					return nil
				}
				fmt.Fprintf(out, "%s left review of workflow %s\n", args[1], wf.ID())
				return nil
			})
		},
	}
}

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	var position string

	cmd := &cobra.Command{
		Use:   "annotate <workflow-or-evidence-id> <user-id> <content>",
		Short: "Record a review annotation on the evidence",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				annotation, err := wf.AddAnnotation(runCtx, args[1], args[2], position)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Annotation %s recorded\n", annotation.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&position, "position", "", "Location the note anchors to (page, offset, timestamp)")
	return cmd
}

func newMessageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "message <workflow-or-evidence-id> <user-id> <body>",
		Short: "Post a message to the review session",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if _, err := wf.PostMessage(runCtx, args[1], args[2]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Message posted")
				return nil
			})
		},
	}
}

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "verify <workflow-or-evidence-id>",
		Short: "Re-run the integrity checks during review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.VerifyIntegrity(runCtx, currentActor(actor)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Integrity status: %s\n", integrityLabel(wf.IntegrityStatus()))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	return cmd
}

func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "analyze <workflow-or-evidence-id>",
		Short: "Request the advisory content analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				result, err := wf.StartAnalysis(runCtx, currentActor(actor))
				if err != nil {
					return err
				}
				return writeJSON(cmd, result)
			})
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Acting user id (defaults to $USER)")
	return cmd
}

func newTransferCommand(ctx *commandContext) *cobra.Command {
	var reason string
	var witnesses []string

	cmd := &cobra.Command{
		Use:   "transfer <workflow-or-evidence-id> <to-custodian>",
		Short: "Transfer custody of the evidence to a new custodian",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.TransferCustody(runCtx, args[1], reason, witnesses); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Custody of workflow %s transferred to %s\n", wf.ID(), args[1])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason for the transfer (required)")
	cmd.Flags().StringSliceVar(&witnesses, "witness", nil, "Witness signature, repeatable")
	return cmd
}

func newReviewCommand(ctx *commandContext) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "review <workflow-or-evidence-id>",
		Short: "Conclude the review stage and move the workflow forward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				if err := wf.CompleteReview(runCtx, currentActor(actor)); err != nil {
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

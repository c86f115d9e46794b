package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"custodia/internal/engine"
	"custodia/internal/notifications"
	"custodia/internal/report"
	"custodia/internal/signing"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "report <workflow-or-evidence-id>",
		Short: "Print the custody report for a finalized workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}

				if rebuild {
					events, err := eng.Store().Events(runCtx, wf.ID())
					if err != nil {
						return err
					}
					rebuilt, err := report.Build(events)
					if err != nil {
						return err
					}
					return writeJSON(cmd, rebuilt)
				}

				stored, err := eng.Store().GetReport(runCtx, wf.ID())
				if err != nil {
					return err
				}
				if stored == nil {
					return fmt.Errorf("workflow %s has no report yet; it finalizes at completion", wf.ID())
				}
				decoded, err := report.Unmarshal(stored)
				if err != nil {
					return err
				}
				return writeJSON(cmd, decoded)
			})
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the report from the event chain instead of reading the stored copy")
	return cmd
}

func newVerifyAuditCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-audit <workflow-or-evidence-id>",
		Short: "Verify the signatures and report reproducibility of a workflow's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEngine(cmd, func(runCtx context.Context, eng *engine.Engine) error {
				wf, err := resolveWorkflow(runCtx, eng, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()

				events, err := eng.Store().Events(runCtx, wf.ID())
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Fprintf(out, "Workflow %s has no audit events yet\n", wf.ID())
					return nil
				}

				badIndex, err := signing.VerifyChain(eng.Signer(), events)
				if err != nil {
					return err
				}
				if badIndex >= 0 {
					return fmt.Errorf("audit trail broken: event %d (%s) fails signature verification",
						badIndex, events[badIndex].Type)
				}
				fmt.Fprintf(out, "All %d event signatures verified\n", len(events))

				stored, err := eng.Store().GetReport(runCtx, wf.ID())
				if err != nil {
					return err
				}
				if stored == nil {
					return nil
				}
				rebuilt, err := report.Build(events)
				if err != nil {
					return fmt.Errorf("rebuild report from events: %w", err)
				}
				encoded, err := rebuilt.Marshal()
				if err != nil {
					return err
				}
				if !bytes.Equal(encoded, stored) {
					return fmt.Errorf("stored report does not match the report rebuilt from the event chain")
				}
				fmt.Fprintln(out, "Stored report matches the event chain byte for byte")
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification using the configured topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Notifications.NtfyTopic == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "ntfy topic not configured; nothing to send")
				return nil
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
			return nil
		},
	}
}

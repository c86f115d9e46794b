package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodia/internal/config"
)

const userAgent = "Custodia-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyWorkflowStarted(ctx context.Context, evidenceID, caseID string) error
	NotifyVerificationCompleted(ctx context.Context, evidenceID, status string) error
	NotifyApprovalRequired(ctx context.Context, evidenceID, reason string) error
	NotifyCustodyTransferred(ctx context.Context, evidenceID, from, to string) error
	NotifyWorkflowCompleted(ctx context.Context, evidenceID, outcome string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:  topic,
		client:    client,
		workflow:  cfg.Notifications.Workflow,
		approvals: cfg.Notifications.Approvals,
		transfers: cfg.Notifications.Transfers,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	workflow  bool
	approvals bool
	transfers bool
	errors    bool
}

func (n *ntfyService) NotifyWorkflowStarted(ctx context.Context, evidenceID, caseID string) error {
	if !n.workflow {
		return nil
	}
	evidenceID = strings.TrimSpace(evidenceID)
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		caseID = "unknown"
	}
	data := payload{
		title:   "Custodia - Workflow Started",
		message: fmt.Sprintf("Custody workflow started for %s (case %s)", evidenceID, caseID),
		tags:    []string{"custodia", "workflow", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyVerificationCompleted(ctx context.Context, evidenceID, status string) error {
	if !n.workflow {
		return nil
	}
	evidenceID = strings.TrimSpace(evidenceID)
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	data := payload{
		title:   "Custodia - Verified",
		message: fmt.Sprintf("Integrity verification for %s: %s", evidenceID, status),
		tags:    []string{"custodia", "verify", "completed"},
	}
	if status == "compromised" {
		data.priority = "high"
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyApprovalRequired(ctx context.Context, evidenceID, reason string) error {
	if !n.approvals {
		return nil
	}
	evidenceID = strings.TrimSpace(evidenceID)
	message := fmt.Sprintf("Approval required for %s", evidenceID)
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\nReason: %s", message, reason)
	}
	data := payload{
		title:    "Custodia - Approval Required",
		message:  message,
		tags:     []string{"custodia", "approval", "pending"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyCustodyTransferred(ctx context.Context, evidenceID, from, to string) error {
	if !n.transfers {
		return nil
	}
	evidenceID = strings.TrimSpace(evidenceID)
	data := payload{
		title:   "Custodia - Custody Transferred",
		message: fmt.Sprintf("Custody of %s transferred: %s -> %s", evidenceID, strings.TrimSpace(from), strings.TrimSpace(to)),
		tags:    []string{"custodia", "transfer", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyWorkflowCompleted(ctx context.Context, evidenceID, outcome string) error {
	if !n.workflow {
		return nil
	}
	evidenceID = strings.TrimSpace(evidenceID)
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "completed"
	}
	data := payload{
		title:    "Custodia - Workflow Finished",
		message:  fmt.Sprintf("Workflow for %s finished: %s", evidenceID, outcome),
		tags:     []string{"custodia", "workflow", "finished"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Custodia - Error",
		message:  builder.String(),
		tags:     []string{"custodia", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Custodia - Test",
		message:  "Notification system test",
		tags:     []string{"custodia", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyWorkflowStarted(context.Context, string, string) error        { return nil }
func (noopService) NotifyVerificationCompleted(context.Context, string, string) error  { return nil }
func (noopService) NotifyApprovalRequired(context.Context, string, string) error       { return nil }
func (noopService) NotifyCustodyTransferred(context.Context, string, string, string) error {
	return nil
}
func (noopService) NotifyWorkflowCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error              { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }

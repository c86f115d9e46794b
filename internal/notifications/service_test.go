package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"custodia/internal/config"
	"custodia/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCapturingService(t *testing.T) (notifications.Service, *[]captured) {
	t.Helper()

	var requests []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	return notifications.NewService(&cfg), &requests
}

func TestNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = "  "
	service := notifications.NewService(&cfg)

	if err := service.NotifyWorkflowStarted(context.Background(), "ev-1", "case-1"); err != nil {
		t.Fatalf("expected noop service, got %v", err)
	}
	if err := service.TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop test notification, got %v", err)
	}
}

func TestNotificationsCarryHeaders(t *testing.T) {
	service, requests := newCapturingService(t)
	ctx := context.Background()

	if err := service.NotifyWorkflowStarted(ctx, "ev-1", "case-1"); err != nil {
		t.Fatalf("NotifyWorkflowStarted: %v", err)
	}
	if err := service.NotifyApprovalRequired(ctx, "ev-1", "integrity compromised"); err != nil {
		t.Fatalf("NotifyApprovalRequired: %v", err)
	}
	if err := service.NotifyCustodyTransferred(ctx, "ev-1", "analyst-1", "archivist-1"); err != nil {
		t.Fatalf("NotifyCustodyTransferred: %v", err)
	}
	if err := service.NotifyError(ctx, errors.New("fetch failed"), "intake stage"); err != nil {
		t.Fatalf("NotifyError: %v", err)
	}

	got := *requests
	if len(got) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(got))
	}
	if got[0].title != "Custodia - Workflow Started" || !strings.Contains(got[0].body, "case-1") {
		t.Fatalf("unexpected start notification: %+v", got[0])
	}
	if got[1].priority != "high" || !strings.Contains(got[1].body, "integrity compromised") {
		t.Fatalf("expected high priority approval notification, got %+v", got[1])
	}
	if !strings.Contains(got[2].body, "analyst-1 -> archivist-1") {
		t.Fatalf("unexpected transfer notification: %+v", got[2])
	}
	if !strings.Contains(got[3].body, "intake stage") || !strings.Contains(got[3].tags, "alert") {
		t.Fatalf("unexpected error notification: %+v", got[3])
	}
}

func TestCategoryTogglesSuppressSends(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Transfers = false
	service := notifications.NewService(&cfg)

	if err := service.NotifyCustodyTransferred(context.Background(), "ev-1", "a", "b"); err != nil {
		t.Fatalf("NotifyCustodyTransferred: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected transfer notification to be suppressed, got %d calls", calls)
	}
}

func TestSendSurfacesServerFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	service := notifications.NewService(&cfg)

	err := service.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected ntfy failure to surface, got %v", err)
	}
}

package notifications_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"intake/internal/config"
	"intake/internal/notifications"
	"intake/internal/pipeline"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), reqs...)
	}
}

func configFor(topic string, onSuccess bool) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.OnSuccess = onSuccess
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor("", true))
	job := &pipeline.Job{SourcePath: "/in/a.txt", Err: pipeline.ErrInfra}
	if err := svc.NotifyJob(context.Background(), job); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNotifyJobReportsFailures(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL, false))

	failed := &pipeline.Job{
		SourcePath: "/in/report.txt",
		LastState:  pipeline.StateQuarantined,
		Err:        fmt.Errorf("%w: dispatch: text: boom", pipeline.ErrHandler),
	}
	if err := svc.NotifyJob(context.Background(), failed); err != nil {
		t.Fatalf("NotifyJob: %v", err)
	}
	ok := &pipeline.Job{SourcePath: "/in/fine.txt", State: pipeline.StateArchived}
	if err := svc.NotifyJob(context.Background(), ok); err != nil {
		t.Fatalf("NotifyJob success: %v", err)
	}
	vanished := &pipeline.Job{SourcePath: "/in/gone.txt", Err: pipeline.ErrNotFound}
	if err := svc.NotifyJob(context.Background(), vanished); err != nil {
		t.Fatalf("NotifyJob not found: %v", err)
	}

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected only the failure to be sent, got %d requests", len(got))
	}
	req := got[0]
	if req.title != "intake - Failed" || req.priority != "high" || req.tags != "intake,error,handler" {
		t.Fatalf("unexpected headers %+v", req)
	}
	if !strings.Contains(req.body, "report.txt was not archived (handler, after quarantined)") || !strings.Contains(req.body, "Hint:") {
		t.Fatalf("unexpected body %q", req.body)
	}
}

func TestNotifyJobReportsSuccessWhenEnabled(t *testing.T) {
	srv, requests := newServer(t, http.StatusOK)
	svc := notifications.NewService(configFor(srv.URL, true))

	job := &pipeline.Job{SourcePath: "/in/a.txt", Summary: "3 lines, 12 bytes"}
	if err := svc.NotifyJob(context.Background(), job); err != nil {
		t.Fatalf("NotifyJob: %v", err)
	}
	got := requests()
	if len(got) != 1 || got[0].body != "Archived a.txt (3 lines, 12 bytes)" || got[0].priority != "" {
		t.Fatalf("unexpected requests %+v", got)
	}
}

func TestSendSurfacesHTTPErrors(t *testing.T) {
	srv, _ := newServer(t, http.StatusForbidden)
	svc := notifications.NewService(configFor(srv.URL, false))
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ntfy returned 403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

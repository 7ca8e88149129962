package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"intake/internal/config"
	"intake/internal/pipeline"
)

const userAgent = "intake/0.1"

const defaultTimeout = 10 * time.Second

// Service publishes job outcomes.
type Service interface {
	NotifyJob(ctx context.Context, job *pipeline.Job) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed notifier, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.Notifications.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		onSuccess: cfg.Notifications.OnSuccess,
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
	onSuccess bool
}

// NotifyJob reports a failed job, and a successful one when enabled. Files
// that vanished before processing are not reported.
func (n *ntfyService) NotifyJob(ctx context.Context, job *pipeline.Job) error {
	if job == nil {
		return nil
	}
	if job.Err == nil {
		if !n.onSuccess {
			return nil
		}
		message := fmt.Sprintf("Archived %s", job.Name())
		if job.Summary != "" {
			message += " (" + job.Summary + ")"
		}
		return n.send(ctx, payload{
			title:   "intake - Archived",
			message: message,
			tags:    []string{"intake", "archived"},
		})
	}

	kind := pipeline.Kind(job.Err)
	if kind == "not_found" {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s was not archived (%s, after %s)\n", job.Name(), kind, job.LastState)
	b.WriteString(strings.TrimSpace(job.Err.Error()))
	if hint := pipeline.Hint(job.Err); hint != "" {
		b.WriteString("\nHint: ")
		b.WriteString(hint)
	}
	priority := "high"
	if kind == "conflict" {
		priority = "default"
	}
	return n.send(ctx, payload{
		title:    "intake - Failed",
		message:  b.String(),
		tags:     []string{"intake", "error", kind},
		priority: priority,
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "intake - Test",
		message:  "Notification system test",
		tags:     []string{"intake", "test"},
		priority: "low",
	})
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

func (noopService) NotifyJob(context.Context, *pipeline.Job) error { return nil }
func (noopService) TestNotification(context.Context) error         { return nil }

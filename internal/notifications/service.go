package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"subflow/internal/config"
)

const userAgent = "Subflow/0.1.0"

// Service defines the notification surface exposed to the workflow.
type Service interface {
	NotifyRunCompleted(ctx context.Context, runID string) error
	NotifyRunFailed(ctx context.Context, runID, reason string) error
	NotifyBurnCompleted(ctx context.Context, output string) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when the topic is empty.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRunCompleted(ctx context.Context, runID string) error {
	return n.send(ctx, payload{
		title:    "Subflow - Subtitles Ready",
		message:  fmt.Sprintf("✅ Subtitles ready (run %s)", strings.TrimSpace(runID)),
		tags:     []string{"subflow", "run", "completed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyRunFailed(ctx context.Context, runID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	return n.send(ctx, payload{
		title:    "Subflow - Error",
		message:  fmt.Sprintf("❌ Run %s failed: %s", strings.TrimSpace(runID), reason),
		tags:     []string{"subflow", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBurnCompleted(ctx context.Context, output string) error {
	message := "🎞️ Burned video ready"
	if name := filepath.Base(strings.TrimSpace(output)); name != "" && name != "." {
		message += ": " + name
	}
	return n.send(ctx, payload{
		title:   "Subflow - Burn Complete",
		message: message,
		tags:    []string{"subflow", "burn", "completed"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Subflow - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"subflow", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
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

func (noopService) NotifyRunCompleted(context.Context, string) error      { return nil }
func (noopService) NotifyRunFailed(context.Context, string, string) error { return nil }
func (noopService) NotifyBurnCompleted(context.Context, string) error     { return nil }
func (noopService) TestNotification(context.Context) error                { return nil }

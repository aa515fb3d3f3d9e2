package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"subflow/internal/config"
	"subflow/internal/notifications"
)

type captured struct {
	title    string
	message  string
	tags     string
	priority string
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		got.message = string(body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(config.Notifications{})
	if err := svc.NotifyRunFailed(context.Background(), "r1", "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func sendRunCompleted(s notifications.Service) error {
	return s.NotifyRunCompleted(context.Background(), "abc123")
}

func sendRunFailed(s notifications.Service) error {
	return s.NotifyRunFailed(context.Background(), "abc123", " translate: bad json ")
}

func sendBurnCompleted(s notifications.Service) error {
	return s.NotifyBurnCompleted(context.Background(), "/work/output_burned.mp4")
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:           "run completed",
			send:           sendRunCompleted,
			expectTitle:    "Subflow - Subtitles Ready",
			expectMessage:  "✅ Subtitles ready (run abc123)",
			expectTags:     "subflow,run,completed",
			expectPriority: "high",
		},
		{
			name:           "run failed",
			send:           sendRunFailed,
			expectTitle:    "Subflow - Error",
			expectMessage:  "❌ Run abc123 failed: translate: bad json",
			expectTags:     "subflow,error,alert",
			expectPriority: "high",
		},
		{
			name:          "burn completed",
			send:          sendBurnCompleted,
			expectTitle:   "Subflow - Burn Complete",
			expectMessage: "🎞️ Burned video ready: output_burned.mp4",
			expectTags:    "subflow,burn,completed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := newCaptureServer(t, http.StatusOK)
			svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
			if err := tt.send(svc); err != nil {
				t.Fatalf("send: %v", err)
			}
			if got.title != tt.expectTitle {
				t.Errorf("title = %q, want %q", got.title, tt.expectTitle)
			}
			if got.message != tt.expectMessage {
				t.Errorf("message = %q, want %q", got.message, tt.expectMessage)
			}
			if got.tags != tt.expectTags {
				t.Errorf("tags = %q, want %q", got.tags, tt.expectTags)
			}
			if got.priority != tt.expectPriority {
				t.Errorf("priority = %q, want %q", got.priority, tt.expectPriority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL})
	err := svc.TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "topic forbidden") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

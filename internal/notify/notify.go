// Package notify delivers operator-facing messages. Delivery is
// fire-and-forget: a broken sink degrades to log lines, never to a stalled
// control loop.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Level is the message severity forwarded to the sink.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notifier is the outbound notification sink.
type Notifier interface {
	Notify(ctx context.Context, level Level, message string)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, Level, string) {}

// Webhook posts messages to a Discord-compatible webhook endpoint.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier. timeout bounds each delivery attempt.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookPayload struct {
	Content string `json:"content"`
}

func (w *Webhook) Notify(ctx context.Context, level Level, message string) {
	body, err := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("[%s] %s", level, message),
	})
	if err != nil {
		slog.Error("Failed to encode notification", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		slog.Error("Failed to build notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Warn("Notification delivery failed", "level", level, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Warn("Notification sink rejected message", "level", level, "status", resp.StatusCode)
	}
}

// Logger mirrors notifications to slog. Used when no webhook is configured.
type Logger struct{}

func (Logger) Notify(_ context.Context, level Level, message string) {
	switch level {
	case LevelError:
		slog.Error("Notification", "message", message)
	case LevelWarning:
		slog.Warn("Notification", "message", message)
	default:
		slog.Info("Notification", "message", message)
	}
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"platter/internal/config"
)

const userAgent = "Platter/0.1.0"

// Service defines the notification surface exposed to the reconciler and
// control API.
type Service interface {
	NotifySystemStarted(ctx context.Context) error
	NotifySystemStopped(ctx context.Context) error
	NotifyStartFailed(ctx context.Context, err error) error
	NotifyDefaultsApplied(ctx context.Context, count int) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		lifecycle: cfg.Notifications.Lifecycle,
		defaults:  cfg.Notifications.Defaults,
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
	lifecycle bool
	defaults  bool
	errors    bool
}

func (n *ntfyService) NotifySystemStarted(ctx context.Context) error {
	if !n.lifecycle {
		return nil
	}
	data := payload{
		title:   "Platter - Started",
		message: "Audio system is up: server and capture pipe are active",
		tags:    []string{"platter", "lifecycle", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySystemStopped(ctx context.Context) error {
	if !n.lifecycle {
		return nil
	}
	data := payload{
		title:   "Platter - Stopped",
		message: "Audio system stopped",
		tags:    []string{"platter", "lifecycle", "stopped"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyStartFailed(ctx context.Context, err error) error {
	if !n.lifecycle {
		return nil
	}
	message := "Audio system failed to start"
	if err != nil {
		message = fmt.Sprintf("%s: %s", message, strings.TrimSpace(err.Error()))
	}
	data := payload{
		title:    "Platter - Start Failed",
		message:  message,
		tags:     []string{"platter", "lifecycle", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDefaultsApplied(ctx context.Context, count int) error {
	if !n.defaults {
		return nil
	}
	data := payload{
		title:   "Platter - Defaults Applied",
		message: fmt.Sprintf("Applied %d default output(s)", count),
		tags:    []string{"platter", "defaults", "applied"},
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
		title:    "Platter - Error",
		message:  builder.String(),
		tags:     []string{"platter", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Platter - Test",
		message:  "Notification system test",
		tags:     []string{"platter", "test"},
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

func (noopService) NotifySystemStarted(context.Context) error        { return nil }
func (noopService) NotifySystemStopped(context.Context) error        { return nil }
func (noopService) NotifyStartFailed(context.Context, error) error   { return nil }
func (noopService) NotifyDefaultsApplied(context.Context, int) error { return nil }
func (noopService) NotifyError(context.Context, error, string) error { return nil }
func (noopService) TestNotification(context.Context) error           { return nil }

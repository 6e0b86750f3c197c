package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"batchvec/internal/config"
)

const userAgent = "batchvec/0.1.0"

// Event identifies a notification kind.
type Event string

const (
	EventQueueStarted     Event = "queue_started"
	EventQueueCompleted   Event = "queue_completed"
	EventAutoPause        Event = "auto_pause"
	EventInterstitial     Event = "interstitial"
	EventRestoreDiscarded Event = "restore_discarded"
	EventError            Event = "error"
	EventTest             Event = "test"
)

// Payload carries event-specific values.
type Payload map[string]any

// Service publishes engine events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
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
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventQueueStarted:     cfg.Notifications.Queue,
			EventQueueCompleted:   cfg.Notifications.Queue,
			EventAutoPause:        cfg.Notifications.AutoPause,
			EventInterstitial:     cfg.Notifications.Interstitial,
			EventRestoreDiscarded: cfg.Notifications.Restore,
			EventError:            cfg.Notifications.Errors,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unknown notification event %q", event)
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventQueueStarted:
		return message{
			title: "batchvec - Queue Started",
			body:  fmt.Sprintf("Started vectorizing %d images", payload.count("count")),
			tags:  []string{"batchvec", "queue", "started"},
		}, true
	case EventQueueCompleted:
		done, failed, skipped := payload.count("done"), payload.count("error"), payload.count("skipped")
		title := "batchvec - Queue Complete"
		body := fmt.Sprintf("%d images vectorized", done)
		if failed > 0 || skipped > 0 {
			title = "batchvec - Queue Complete (with problems)"
			body = fmt.Sprintf("%d vectorized, %d failed, %d skipped", done, failed, skipped)
		}
		return message{title: title, body: body, tags: []string{"batchvec", "queue", "completed"}}, true
	case EventAutoPause:
		body := "Auto-pause started"
		if end, ok := payload["endTime"].(time.Time); ok && !end.IsZero() {
			body = fmt.Sprintf("Auto-pause until %s", end.Local().Format("15:04:05"))
		}
		if remaining := payload.count("remaining"); remaining > 0 {
			body = fmt.Sprintf("%s, %d images remaining", body, remaining)
		}
		return message{title: "batchvec - Paused", body: body, tags: []string{"batchvec", "pause"}}, true
	case EventInterstitial:
		return message{
			title:    "batchvec - Action Required",
			body:     fmt.Sprintf("Verification page while processing %s. Clear it in the browser, then resume.", payload.text("name")),
			tags:     []string{"batchvec", "interstitial", "warning"},
			priority: "high",
		}, true
	case EventRestoreDiscarded:
		return message{
			title: "batchvec - Resume Failed",
			body:  fmt.Sprintf("%d unfinished images could not be resumed after restart. Re-add the files.", payload.count("unfinished")),
			tags:  []string{"batchvec", "restore", "warning"},
		}, true
	case EventError:
		body := "Error"
		if ctxLabel := payload.text("context"); ctxLabel != "" {
			body += " with " + ctxLabel
		}
		errText := payload.text("error")
		if errText == "" {
			errText = "unknown"
		}
		return message{
			title:    "batchvec - Error",
			body:     body + ": " + errText,
			tags:     []string{"batchvec", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "batchvec - Test",
			body:     "Notification system test",
			tags:     []string{"batchvec", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) count(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

// NewNoop returns a Service that drops every event.
func NewNoop() Service { return noopService{} }

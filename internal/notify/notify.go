// Package notify delivers custody notifications via pluggable transports.
//
// The default implementation publishes to ntfy using the topic configured in
// flashflow.yml and degrades to a no-op when notifications are disabled.
// Delivery is best-effort: a failed notification never rolls back the
// custody transition that triggered it.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flashflow/internal/config"
)

const userAgent = "FlashFlow/0.1.0"

// Service is the notification surface exposed to the engine.
type Service interface {
	// NotifyHandoff informs the new holder that custody of a video was
	// transferred to them.
	NotifyHandoff(ctx context.Context, videoID, title, fromActor, toActor, toRole string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notify.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notify.TimeoutSeconds) * time.Second
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

func (n *ntfyService) NotifyHandoff(ctx context.Context, videoID, title, fromActor, toActor, toRole string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = videoID
	}
	data := payload{
		title:    "FlashFlow - Video Handed Off",
		message:  fmt.Sprintf("%s: %s -> %s (%s)", title, fromActor, toActor, toRole),
		tags:     []string{"flashflow", "handoff", toActor},
		priority: "default",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "FlashFlow - Test",
		message: "Notifications are configured correctly.",
		tags:    []string{"flashflow", "test"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}
	res, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("ntfy status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type noopService struct{}

func (noopService) NotifyHandoff(context.Context, string, string, string, string, string) error {
	return nil
}

func (noopService) TestNotification(context.Context) error { return nil }

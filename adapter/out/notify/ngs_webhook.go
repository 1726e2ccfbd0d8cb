// Package notify implements notification sinks for incident lifecycle
// events.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/pkg/apperr"
	"github.com/kapella-hub/ngs/pkg/logger"
)

// WebhookSink POSTs the notification JSON to a configured endpoint.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *logger.Logger
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger.WithComponent("webhook_sink"),
	}
}

func (s *WebhookSink) Notify(ctx context.Context, n out.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return apperr.Internal("marshal notification", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return apperr.ProviderError("webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.ProviderError("webhook post", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.ProviderError(fmt.Sprintf("webhook post: status %d", resp.StatusCode), nil)
	}
	return nil
}

// SlackSink posts a short formatted message to a Slack incoming webhook.
type SlackSink struct {
	webhookURL string
	client     *http.Client
}

func NewSlackSink(webhookURL string) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

var kindLabels = map[out.NotificationKind]string{
	out.NotifyIncidentCreated:   "New incident",
	out.NotifySeverityEscalated: "Severity escalated",
	out.NotifyIncidentResolved:  "Incident resolved",
}

func (s *SlackSink) Notify(ctx context.Context, n out.Notification) error {
	label := kindLabels[n.Kind]
	if label == "" {
		label = string(n.Kind)
	}
	text := fmt.Sprintf("*%s* [%s] %s", label, n.Severity, n.Title)
	if n.Host != "" {
		text += fmt.Sprintf("\nhost: `%s`", n.Host)
	}
	if n.Service != "" {
		text += fmt.Sprintf(" service: `%s`", n.Service)
	}

	payload, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return apperr.ProviderError("slack request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.ProviderError("slack post", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.ProviderError(fmt.Sprintf("slack post: status %d", resp.StatusCode), nil)
	}
	return nil
}

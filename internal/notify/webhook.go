package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Webhook payload formats.
const (
	FormatGeneric = "generic"
	FormatSlack   = "slack"
	FormatTeams   = "teams"
)

// WebhookAdapter POSTs notifications as JSON to a configured URL. The
// payload shape follows the target: Slack and Teams incoming-webhook
// formats, or the raw Notification for a generic endpoint.
type WebhookAdapter struct {
	url    string
	format string
	client *http.Client
}

// NewWebhookAdapter creates a webhook adapter. format must be one of the
// Format* constants; anything else falls back to generic.
func NewWebhookAdapter(rawURL, format string) *WebhookAdapter {
	switch format {
	case FormatSlack, FormatTeams:
	default:
		format = FormatGeneric
	}
	return &WebhookAdapter{
		url:    rawURL,
		format: format,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns "webhook-<format>".
func (a *WebhookAdapter) Name() string { return "webhook-" + a.format }

// Init validates the URL without sending anything.
func (a *WebhookAdapter) Init(context.Context) error {
	u, err := url.Parse(a.url)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid webhook URL %q", a.url)
	}
	return nil
}

// Send delivers one notification.
func (a *WebhookAdapter) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(a.payload(n))
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Close is a no-op; the shared http.Client needs no teardown.
func (a *WebhookAdapter) Close() error { return nil }

func (a *WebhookAdapter) payload(n Notification) any {
	text := n.Title
	if n.Body != "" {
		text += "\n" + n.Body
	}
	if n.URL != "" {
		text += "\n" + n.URL
	}

	switch a.format {
	case FormatSlack:
		return map[string]string{"text": text}
	case FormatTeams:
		return map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"summary":    n.Title,
			"title":      n.Title,
			"text":       text,
			"themeColor": "6264A7",
		}
	default:
		return n
	}
}

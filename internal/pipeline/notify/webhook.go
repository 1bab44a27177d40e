package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts run alerts as text messages.
type WebhookNotifier struct {
	url    string
	client *http.Client
	tpl    *Template
}

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithTemplate renders alert content with tpl instead of the built-in layout.
func WithTemplate(tpl *Template) WebhookOption {
	return func(n *WebhookNotifier) {
		n.tpl = tpl
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) WebhookOption {
	return func(n *WebhookNotifier) {
		if timeout > 0 {
			n.client.Timeout = timeout
		}
	}
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	n := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends an alert to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, alert RunAlert) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	content := formatRunAlert(alert)
	if n.tpl != nil {
		rendered, err := n.tpl.Render(alert)
		if err != nil {
			return err
		}
		content = rendered
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatRunAlert(alert RunAlert) string {
	var b strings.Builder
	b.WriteString("[Advisory Pipeline]\n")
	if alert.BuildingID != "" {
		fmt.Fprintf(&b, "Building: %s\n", alert.BuildingID)
	}
	if alert.Anchor != "" {
		fmt.Fprintf(&b, "Anchor: %s\n", alert.Anchor)
	}
	if alert.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", alert.Status)
	}
	if alert.RunID != "" {
		fmt.Fprintf(&b, "Run: %s\n", alert.RunID)
	}
	if len(alert.Reasons) > 0 {
		fmt.Fprintf(&b, "Reasons: %s\n", strings.Join(alert.Reasons, ", "))
	}
	if len(alert.BlockUnits) > 0 {
		fmt.Fprintf(&b, "Blocked units: %s\n", strings.Join(alert.BlockUnits, ", "))
	}
	if alert.ReportURL != "" {
		fmt.Fprintf(&b, "Report URL: %s\n", alert.ReportURL)
	}
	if len(alert.Summary) > 0 {
		if raw, err := json.Marshal(alert.Summary); err == nil {
			fmt.Fprintf(&b, "Summary: %s\n", string(raw))
		}
	}
	return strings.TrimSpace(b.String())
}

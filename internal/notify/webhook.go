package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// WebhookProvider sends notifications as JSON to an HTTP endpoint.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
}

// webhookPayload carries the notification fields plus a preformatted "text"
// field, which Slack and Mattermost incoming webhooks display as-is.
type webhookPayload struct {
	Kind      string    `json:"kind"`
	Host      string    `json:"host"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Devices   []string  `json:"devices,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// NewWebhook creates a new webhook notification provider.
func NewWebhook(url, method string, headers map[string]string) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookProvider{
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

func (w *WebhookProvider) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(webhookPayload{
		Kind:      n.Kind,
		Host:      n.Host,
		Subject:   n.Subject,
		Body:      n.Body,
		Devices:   n.Devices,
		Timestamp: n.Timestamp,
		Text:      "*" + n.Subject + "*\n```\n" + n.Body + "\n```",
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	return doHTTP(w.client, "webhook", req)
}

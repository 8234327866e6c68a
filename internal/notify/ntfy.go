package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// NtfyProvider sends notifications via an ntfy server.
type NtfyProvider struct {
	url    string
	topic  string
	client *http.Client
}

// NewNtfy creates a new ntfy notification provider.
func NewNtfy(url, topic string) *NtfyProvider {
	return &NtfyProvider{
		url:    strings.TrimRight(url, "/"),
		topic:  topic,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *NtfyProvider) Name() string { return "ntfy" }

func (n *NtfyProvider) Send(ctx context.Context, notif model.Notification) error {
	body := notif.Body
	// Reports are fixed-width tables; render them as a code block.
	if notif.Kind == model.KindReport {
		body = "```\n" + body + "\n```"
	}

	endpoint := fmt.Sprintf("%s/%s", n.url, n.topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("ntfy: build request: %w", err)
	}

	req.Header.Set("Title", notif.Subject)
	req.Header.Set("Priority", kindToNtfyPriority(notif.Kind))
	req.Header.Set("Tags", ntfyTags(notif))
	if notif.Kind == model.KindReport {
		req.Header.Set("Markdown", "yes")
	}

	return doHTTP(n.client, "ntfy", req)
}

func kindToNtfyPriority(kind string) string {
	switch kind {
	case model.KindAlert:
		return "4"
	case model.KindReport:
		return "2"
	default:
		return "3"
	}
}

func ntfyTags(n model.Notification) string {
	var tags []string
	switch n.Kind {
	case model.KindAlert:
		tags = append(tags, "warning", "floppy_disk")
	case model.KindReport:
		tags = append(tags, "bar_chart")
	}
	if n.Host != "" {
		tags = append(tags, n.Host)
	}
	return strings.Join(tags, ",")
}

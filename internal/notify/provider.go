// Package notify delivers alert and report notifications.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/darshan-rambhia/diskstats/internal/model"
)

// Provider sends notifications through a specific channel. The alerter calls
// Send on every provider at once, so Send must not share mutable state with
// other providers.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// maxErrorBody bounds how much of a rejected response is kept in StatusError.
const maxErrorBody = 512

// StatusError is returned when an HTTP endpoint answers outside 2xx.
type StatusError struct {
	Provider string
	Code     int
	// Body is the start of the response body, whitespace-trimmed.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// doHTTP sends req and fails with *StatusError for any non-2xx answer.
// Transport errors are prefixed with the provider name.
func doHTTP(client *http.Client, provider string, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Provider: provider,
		Code:     resp.StatusCode,
		Body:     strings.TrimSpace(string(snippet)),
	}
}

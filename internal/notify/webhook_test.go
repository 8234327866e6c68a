package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/darshan-rambhia/diskstats/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookName(t *testing.T) {
	p := NewWebhook("http://localhost/hook", "", nil)
	assert.Equal(t, "webhook", p.Name())
}

func TestWebhookSendJSON(t *testing.T) {
	var gotBody webhookPayload
	var gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL+"/hook", "", nil)
	notif := model.Notification{
		Kind:      model.KindAlert,
		Host:      "nas",
		Subject:   "[nas] Disk usage alert",
		Body:      "/dev/sda1 on / is 85% full",
		Devices:   []string{"/dev/sda1"},
		Timestamp: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}

	err := p.Send(context.Background(), notif)
	require.NoError(t, err)

	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, model.KindAlert, gotBody.Kind)
	assert.Equal(t, "nas", gotBody.Host)
	assert.Equal(t, "[nas] Disk usage alert", gotBody.Subject)
	assert.Equal(t, "/dev/sda1 on / is 85% full", gotBody.Body)
	assert.Equal(t, []string{"/dev/sda1"}, gotBody.Devices)
	assert.True(t, notif.Timestamp.Equal(gotBody.Timestamp))
	assert.Equal(t, "*[nas] Disk usage alert*\n```\n/dev/sda1 on / is 85% full\n```", gotBody.Text)
}

func TestWebhookCustomHeaders(t *testing.T) {
	var gotAuth string
	var gotCustom string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	headers := map[string]string{
		"Authorization": "Bearer tok123",
		"X-Custom":      "my-value",
	}
	p := NewWebhook(srv.URL, "", headers)
	err := p.Send(context.Background(), model.Notification{Kind: model.KindReport, Subject: "Test", Body: "test"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "my-value", gotCustom)
}

func TestWebhookMethodOverride(t *testing.T) {
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, http.MethodPut, nil)
	err := p.Send(context.Background(), model.Notification{Subject: "Test", Body: "test"})
	require.NoError(t, err)
	assert.Equal(t, "PUT", gotMethod)
}

func TestWebhookDefaultMethodIsPost(t *testing.T) {
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, "", nil)
	err := p.Send(context.Background(), model.Notification{Subject: "Test", Body: "test"})
	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
}

func TestWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, "", nil)
	err := p.Send(context.Background(), model.Notification{Subject: "Test", Body: "test"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSendCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, model.Notification{Subject: "Test", Body: "cancelled"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook: send:")
}

func TestWebhookSendBadURL(t *testing.T) {
	p := NewWebhook("://invalid", "", nil)
	err := p.Send(context.Background(), model.Notification{Subject: "Test", Body: "bad url"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook:")
}

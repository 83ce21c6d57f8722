package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/vaultkeeper/internal/events"
)

func TestWebhookHandler_Delivers(t *testing.T) {
	t.Setenv("VK_TEST_WEBHOOK_TOKEN", "s3cret")

	var got WebhookPayload
	var auth, eventID, custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		eventID = r.Header.Get("X-Vaultkeeper-Event-Id")
		custom = r.Header.Get("X-Team")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h, err := NewWebhookHandler("hook", WebhookConfig{
		URL:      srv.URL,
		Headers:  map[string]string{"X-Team": "notes"},
		TokenEnv: "VK_TEST_WEBHOOK_TOKEN",
	}, srv.Client(), nil)
	require.NoError(t, err)

	ev := events.New("/v/a.md", events.Created, time.Now())
	out, err := h.Handle(context.Background(), ev)
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, http.StatusAccepted, out.Metadata["status_code"])
	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, ev.ID, eventID)
	assert.Equal(t, "notes", custom)
	assert.Equal(t, "hook", got.Handler)
	assert.Equal(t, ev.Path, got.Event.Path)
	assert.Equal(t, events.Created, got.Event.Kind)
}

func TestWebhookHandler_Non2xxFailsAndTurnsUnhealthy(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := NewWebhookHandler("hook", WebhookConfig{URL: srv.URL, RatePerSecond: 1000, Burst: 10}, srv.Client(), nil)
	require.NoError(t, err)

	ev := events.New("/v/a.md", events.Modified, time.Now())

	_, err = h.Handle(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "try later")

	health := h.Health()
	assert.True(t, health.IsHealthy)
	assert.Len(t, health.Warnings, 1)

	for i := 1; i < webhookUnhealthyAfter; i++ {
		_, _ = h.Handle(context.Background(), ev)
	}
	assert.EqualValues(t, webhookUnhealthyAfter, calls.Load())
	assert.False(t, h.Health().IsHealthy)
}

func TestWebhookHandler_SuccessResetsFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := NewWebhookHandler("hook", WebhookConfig{URL: srv.URL, RatePerSecond: 1000, Burst: 10}, srv.Client(), nil)
	require.NoError(t, err)
	ev := events.New("/v/a.md", events.Modified, time.Now())

	_, err = h.Handle(context.Background(), ev)
	require.Error(t, err)

	fail.Store(false)
	_, err = h.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, Healthy(), h.Health())
}

func TestWebhookHandler_CanceledContextNotCounted(t *testing.T) {
	h, err := NewWebhookHandler("hook", WebhookConfig{URL: "http://127.0.0.1:1/hook"}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = h.Handle(ctx, events.New("/v/a.md", events.Modified, time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Healthy(), h.Health())
}

func TestNewWebhookHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  WebhookConfig
	}{
		{"empty url", WebhookConfig{}},
		{"wrong scheme", WebhookConfig{URL: "ftp://example.com/x"}},
		{"no host", WebhookConfig{URL: "http://"}},
		{"token env unset", WebhookConfig{URL: "https://example.com", TokenEnv: "VK_TEST_UNSET_TOKEN_VAR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWebhookHandler("hook", tt.cfg, nil, nil)
			assert.Error(t, err)
		})
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
	"github.com/leefowlercu/vaultkeeper/internal/version"
)

const (
	DefaultWebhookRate  = 5.0
	DefaultWebhookBurst = 5

	webhookUnhealthyAfter = 5
	webhookBodyPreview    = 256
)

// WebhookConfig is the webhook handler's config block.
type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`

	// TokenEnv names an environment variable holding a bearer token.
	TokenEnv string `mapstructure:"token_env"`

	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// WebhookPayload is the JSON body sent for each event.
type WebhookPayload struct {
	Event   events.FileEvent `json:"event"`
	Handler string           `json:"handler"`
	SentAt  time.Time        `json:"sent_at"`
}

// WebhookHandler posts each event as JSON to a URL, rate limited. Any 2xx
// response is a success.
type WebhookHandler struct {
	name    string
	cfg     WebhookConfig
	token   string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	failures int
	lastErr  error
}

// NewWebhookHandler validates cfg and creates a handler.
func NewWebhookHandler(name string, cfg WebhookConfig, client *http.Client, logger *slog.Logger) (*WebhookHandler, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("webhook handler requires an http(s) url, got %q", cfg.URL)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultWebhookRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultWebhookBurst
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var token string
	if cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
		if token == "" {
			return nil, fmt.Errorf("webhook token variable %s is not set", cfg.TokenEnv)
		}
	}

	return &WebhookHandler{
		name:    name,
		cfg:     cfg,
		token:   token,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// NewWebhookFromConfig is the webhook Factory.
func NewWebhookFromConfig(_ context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	var cfg WebhookConfig
	if err := decodeConfig(entry.Config, &cfg); err != nil {
		return nil, err
	}
	return NewWebhookHandler(entry.Name, cfg, nil, logger)
}

// CanHandle accepts every event.
func (h *WebhookHandler) CanHandle(events.FileEvent) bool {
	return true
}

// Handle waits for the rate limiter and delivers the event.
func (h *WebhookHandler) Handle(ctx context.Context, ev events.FileEvent) (Output, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return Output{}, h.record(fmt.Errorf("rate limiter; %w", err))
	}

	body, err := json.Marshal(WebhookPayload{Event: ev, Handler: h.name, SentAt: time.Now().UTC()})
	if err != nil {
		return Output{}, h.record(fmt.Errorf("failed to encode payload; %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, h.cfg.Method, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Output{}, h.record(fmt.Errorf("failed to build request; %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Vaultkeeper-Event-Id", ev.ID)
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Output{}, h.record(fmt.Errorf("webhook request failed; %w", err))
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, webhookBodyPreview))
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Output{}, h.record(fmt.Errorf("webhook returned %s: %s", resp.Status, bytes.TrimSpace(preview)))
	}

	h.record(nil)
	return Output{Success: true, Metadata: map[string]any{
		"status_code": resp.StatusCode,
	}}, nil
}

// Health turns unhealthy after repeated consecutive delivery failures.
func (h *WebhookHandler) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.failures >= webhookUnhealthyAfter:
		return Health{IsHealthy: false, Warnings: []string{
			fmt.Sprintf("%d consecutive delivery failures; last: %v", h.failures, h.lastErr),
		}}
	case h.failures > 0:
		return Health{IsHealthy: true, Warnings: []string{"last delivery failed: " + h.lastErr.Error()}}
	}
	return Healthy()
}

func (h *WebhookHandler) record(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures = 0
		h.lastErr = nil
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Abandoned by the dispatcher; not the endpoint's fault.
		return err
	}
	h.failures++
	h.lastErr = err
	h.logger.Debug("webhook delivery failed", "error", err)
	return err
}

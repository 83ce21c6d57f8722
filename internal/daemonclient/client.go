package daemonclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/daemon"
)

const (
	DefaultTimeout = 5 * time.Second
	StopTimeout    = 2 * time.Minute
)

// ErrUnreachable is returned when no daemon answers at the configured address.
var ErrUnreachable = errors.New("daemon unreachable")

// Client provides a shared HTTP client for daemon endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithBaseURL overrides the address derived from configuration.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// New creates a Client using daemon configuration.
func New(cfg config.DaemonConfig, opts ...Option) *Client {
	client := &Client{
		baseURL: ResolveBaseURL(cfg),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// NewFromConfig creates a Client from the root config.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	return New(cfg.Daemon, opts...), nil
}

// ResolveBaseURL builds the daemon base URL from config.
func ResolveBaseURL(cfg config.DaemonConfig) string {
	bind := NormalizeBind(cfg.HTTPBind)
	return fmt.Sprintf("http://%s:%d", bind, cfg.HTTPPort)
}

// NormalizeBind maps wildcard binds to loopback for local clients.
func NormalizeBind(bind string) string {
	if bind == "" || bind == "0.0.0.0" || bind == "::" || bind == "[::]" {
		return "127.0.0.1"
	}
	if strings.Contains(bind, ":") && !strings.HasPrefix(bind, "[") {
		return "[" + bind + "]"
	}
	return bind
}

// Healthz reports whether the daemon process answers at all.
func (c *Client) Healthz(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

// Status fetches the daemon status. An unhealthy daemon answers 503 with a
// full body, so both codes decode.
func (c *Client) Status(ctx context.Context) (*daemon.Status, error) {
	var status daemon.Status
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &status, http.StatusOK, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &status, nil
}

// Stop asks the daemon to stop and waits for it to finish.
func (c *Client) Stop(ctx context.Context) (*daemon.StopResult, error) {
	var result daemon.StopResult
	if err := c.doJSON(ctx, http.MethodPost, "/stop", nil, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, accept ...int) error {
	var body io.Reader
	if in != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return fmt.Errorf("failed to encode request; %w", err)
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request; %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon; %w; %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if !accepted(resp.StatusCode, accept) {
		var errResp errorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error != "" {
			return fmt.Errorf("daemon request failed; %s", errResp.Error)
		}
		return fmt.Errorf("daemon request failed; status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response; %w", err)
	}

	return nil
}

func accepted(code int, accept []int) bool {
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error string `json:"error"`
}

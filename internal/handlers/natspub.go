package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
)

const (
	DefaultNATSSubject = "vaultkeeper.events.{kind}"
	natsConnectTimeout = 5 * time.Second
)

// NATSConfig is the nats handler's config block.
type NATSConfig struct {
	URL string `mapstructure:"url"`

	// Subject may contain a {kind} placeholder.
	Subject string `mapstructure:"subject"`

	// Credentials is an optional path to a NATS .creds file.
	Credentials string `mapstructure:"credentials"`
}

// NATSHandler publishes each event as JSON on a NATS subject and waits for
// the server to acknowledge the flush.
type NATSHandler struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSHandler connects to the server. The connection keeps retrying in the
// background if the server is not yet reachable.
func NewNATSHandler(name string, cfg NATSConfig, logger *slog.Logger) (*NATSHandler, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("vaultkeeper-" + name),
		nats.Timeout(natsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Credentials != "" {
		opts = append(opts, nats.UserCredentials(config.ExpandPath(cfg.Credentials)))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats %s; %w", cfg.URL, err)
	}

	logger.Info("nats handler initialized", "url", cfg.URL, "subject", cfg.Subject)

	return &NATSHandler{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// NewNATSFromConfig is the nats Factory.
func NewNATSFromConfig(_ context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	var cfg NATSConfig
	if err := decodeConfig(entry.Config, &cfg); err != nil {
		return nil, err
	}
	return NewNATSHandler(entry.Name, cfg, logger)
}

// CanHandle accepts every event.
func (h *NATSHandler) CanHandle(events.FileEvent) bool {
	return true
}

// Subject returns the subject an event is published on.
func (h *NATSHandler) Subject(ev events.FileEvent) string {
	return strings.ReplaceAll(h.subject, "{kind}", string(ev.Kind))
}

// Handle publishes the event and flushes.
func (h *NATSHandler) Handle(ctx context.Context, ev events.FileEvent) (Output, error) {
	if !h.conn.IsConnected() {
		return Output{}, fmt.Errorf("nats not connected (status %s)", h.conn.Status())
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return Output{}, fmt.Errorf("failed to marshal event; %w", err)
	}

	subject := h.Subject(ev)
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Vaultkeeper-Event-Id", ev.ID)

	if err := h.conn.PublishMsg(msg); err != nil {
		return Output{}, fmt.Errorf("failed to publish event; %w", err)
	}
	if err := h.conn.FlushWithContext(ctx); err != nil {
		return Output{}, fmt.Errorf("failed to flush publish; %w", err)
	}

	return Output{Success: true, Metadata: map[string]any{"subject": subject}}, nil
}

// Health reflects the connection state.
func (h *NATSHandler) Health() Health {
	status := h.conn.Status()
	switch status {
	case nats.CONNECTED:
		return Healthy()
	case nats.RECONNECTING, nats.CONNECTING:
		return Health{IsHealthy: true, Warnings: []string{"nats " + strings.ToLower(status.String())}}
	}

	health := Health{IsHealthy: false, Warnings: []string{"nats connection " + strings.ToLower(status.String())}}
	if err := h.conn.LastError(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		health.Warnings = append(health.Warnings, err.Error())
	}
	return health
}

// Close drains pending publishes and closes the connection.
func (h *NATSHandler) Close() error {
	if h.conn.IsClosed() {
		return nil
	}
	if !h.conn.IsConnected() {
		h.conn.Close()
		return nil
	}
	if err := h.conn.Drain(); err != nil {
		h.conn.Close()
		return fmt.Errorf("failed to drain nats connection; %w", err)
	}
	return nil
}

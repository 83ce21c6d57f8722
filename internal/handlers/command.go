package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/events"
)

const (
	// DefaultCommandMaxOutput caps how much stdout a command may produce.
	DefaultCommandMaxOutput = 1 << 20

	commandWaitDelay        = 2 * time.Second
	commandFailureWarnAfter = 3
	stderrLimit             = 512
)

var errOutputTooLarge = errors.New("command output exceeds limit")

// CommandConfig is the command handler's config block.
type CommandConfig struct {
	Command        string            `mapstructure:"command"`
	Args           []string          `mapstructure:"args"`
	Dir            string            `mapstructure:"dir"`
	Env            map[string]string `mapstructure:"env"`
	MaxOutputBytes int               `mapstructure:"max_output_bytes"`
}

// CommandHandler runs an external program for each event. The program sees
// the event in VAULTKEEPER_EVENT_* variables and in {path}, {rel_path},
// {kind} and {id} placeholders in its arguments. A JSON object printed on
// stdout becomes the result metadata; a "success": false member marks the
// result failed.
type CommandHandler struct {
	cfg    CommandConfig
	binary string
	logger *slog.Logger

	mu       sync.Mutex
	failures int
	lastErr  error
}

// NewCommandHandler resolves the program and returns a handler for it.
func NewCommandHandler(cfg CommandConfig, logger *slog.Logger) (*CommandHandler, error) {
	if cfg.Command == "" {
		return nil, errors.New("command handler requires command")
	}
	binary, err := exec.LookPath(config.ExpandPath(cfg.Command))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve command %q; %w", cfg.Command, err)
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultCommandMaxOutput
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CommandHandler{
		cfg:    cfg,
		binary: binary,
		logger: logger,
	}, nil
}

// NewCommandFromConfig is the command Factory.
func NewCommandFromConfig(_ context.Context, entry config.HandlerConfig, logger *slog.Logger) (Handler, error) {
	var cfg CommandConfig
	if err := decodeConfig(entry.Config, &cfg); err != nil {
		return nil, err
	}
	return NewCommandHandler(cfg, logger)
}

// CanHandle accepts every event; routing is left to patterns and kinds.
func (h *CommandHandler) CanHandle(events.FileEvent) bool {
	return true
}

// Handle runs the program once. The process is killed when ctx is done.
func (h *CommandHandler) Handle(ctx context.Context, ev events.FileEvent) (Output, error) {
	args := make([]string, len(h.cfg.Args))
	replacer := strings.NewReplacer(
		"{path}", ev.Path,
		"{rel_path}", ev.RelPath,
		"{kind}", string(ev.Kind),
		"{id}", ev.ID,
	)
	for i, a := range h.cfg.Args {
		args[i] = replacer.Replace(a)
	}

	cmd := exec.CommandContext(ctx, h.binary, args...) //nolint:gosec
	cmd.WaitDelay = commandWaitDelay
	cmd.Dir = config.ExpandPath(h.cfg.Dir)
	cmd.Env = append(os.Environ(),
		"VAULTKEEPER_EVENT_ID="+ev.ID,
		"VAULTKEEPER_EVENT_PATH="+ev.Path,
		"VAULTKEEPER_EVENT_REL_PATH="+ev.RelPath,
		"VAULTKEEPER_EVENT_KIND="+string(ev.Kind),
		"VAULTKEEPER_EVENT_TIMESTAMP="+ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	for k, v := range h.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout := &limitedBuffer{limit: h.cfg.MaxOutputBytes}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, h.record(ctxErr)
		}
		msg := strings.TrimSpace(stderr.buf.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return Output{}, h.record(fmt.Errorf("command %s failed; %w", h.cfg.Command, err))
	}
	if stdout.overflow {
		return Output{}, h.record(fmt.Errorf("%w: %d bytes", errOutputTooLarge, h.cfg.MaxOutputBytes))
	}

	out := parseCommandOutput(stdout.buf.Bytes())
	h.logger.Debug("command finished",
		"path", ev.Path,
		"success", out.Success,
		"metadata_keys", len(out.Metadata))
	if out.Success {
		h.record(nil)
	} else {
		h.record(errors.New("command reported failure"))
	}
	return out, nil
}

// Health warns after several consecutive failures.
func (h *CommandHandler) Health() Health {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failures >= commandFailureWarnAfter {
		return Health{
			IsHealthy: true,
			Warnings:  []string{fmt.Sprintf("%d consecutive failures; last: %v", h.failures, h.lastErr)},
		}
	}
	return Healthy()
}

func (h *CommandHandler) record(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err == nil {
		h.failures = 0
		h.lastErr = nil
		return nil
	}
	h.failures++
	h.lastErr = err
	return err
}

func parseCommandOutput(raw []byte) Output {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Output{Success: true}
	}

	if trimmed[0] == '{' {
		var meta map[string]any
		if err := json.Unmarshal(trimmed, &meta); err == nil {
			success := true
			if s, ok := meta["success"].(bool); ok {
				success = s
				delete(meta, "success")
			}
			return Output{Success: success, Metadata: meta}
		}
	}

	return Output{Success: true, Metadata: map[string]any{"output": string(trimmed)}}
}

type limitedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		b.overflow = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

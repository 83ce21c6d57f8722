package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leefowlercu/vaultkeeper/internal/events"
)

// Nothing listens on port 1, so the handler stays in its retry loop.
const unreachableNATS = "nats://127.0.0.1:1"

func TestNATSHandler_UnreachableServer(t *testing.T) {
	h, err := NewNATSHandler("test", NATSConfig{URL: unreachableNATS}, nil)
	require.NoError(t, err, "connect retries in the background")

	health := h.Health()
	assert.True(t, health.IsHealthy)
	require.Len(t, health.Warnings, 1)
	assert.Contains(t, health.Warnings[0], "nats")

	_, err = h.Handle(context.Background(), events.New("/v/a.md", events.Created, time.Now()))
	assert.ErrorContains(t, err, "not connected")

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.False(t, h.Health().IsHealthy)
}

func TestNATSHandler_Subject(t *testing.T) {
	h, err := NewNATSHandler("test", NATSConfig{URL: unreachableNATS, Subject: "vault.{kind}.notes"}, nil)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, "vault.deleted.notes", h.Subject(events.New("/v/a.md", events.Deleted, time.Now())))

	def, err := NewNATSHandler("default", NATSConfig{URL: unreachableNATS}, nil)
	require.NoError(t, err)
	defer def.Close()

	assert.Equal(t, "vaultkeeper.events.created", def.Subject(events.New("/v/a.md", events.Created, time.Now())))
}

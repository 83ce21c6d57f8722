package daemonclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/leefowlercu/vaultkeeper/internal/config"
	"github.com/leefowlercu/vaultkeeper/internal/daemon"
)

func TestNormalizeBind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1"},
		{"0.0.0.0", "127.0.0.1"},
		{"::", "127.0.0.1"},
		{"127.0.0.1", "127.0.0.1"},
		{"::1", "[::1]"},
		{"[::1]", "[::1]"},
		{"localhost", "localhost"},
	}

	for _, tt := range tests {
		if got := NormalizeBind(tt.in); got != tt.want {
			t.Errorf("NormalizeBind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveBaseURL(t *testing.T) {
	got := ResolveBaseURL(config.DaemonConfig{HTTPBind: "0.0.0.0", HTTPPort: 7610})
	if got != "http://127.0.0.1:7610" {
		t.Errorf("ResolveBaseURL() = %q", got)
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(config.DaemonConfig{}, WithBaseURL(srv.URL))
}

func TestClient_Status(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		healthy bool
	}{
		{"healthy", http.StatusOK, true},
		{"unhealthy still decodes", http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/status" {
					t.Errorf("request = %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.code)
				w.Write([]byte(`{"overall_healthy":` + map[bool]string{true: "true", false: "false"}[tt.healthy] +
					`,"checks":{},"errors":[],"state":"running","pid":99}`))
			})

			status, err := c.Status(context.Background())
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if status.OverallHealthy != tt.healthy || status.State != daemon.StateRunning || status.PID != 99 {
				t.Errorf("Status() = %+v", status)
			}
		})
	}
}

func TestClient_Stop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/stop" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"status":"stopped"}`))
	})

	res, err := c.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res.Status != daemon.StatusStopped {
		t.Errorf("Stop() status = %q", res.Status)
	}
}

func TestClient_ErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"watcher stuck"}`))
	})

	_, err := c.Stop(context.Background())
	if err == nil || err.Error() != "daemon request failed; watcher stuck" {
		t.Errorf("Stop() error = %v", err)
	}
	if errors.Is(err, ErrUnreachable) {
		t.Error("server error should not be ErrUnreachable")
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.DaemonConfig{}, WithBaseURL(url))
	if err := c.Healthz(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Healthz() error = %v, want ErrUnreachable", err)
	}
}

package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsProvider is an interface for components that provide metrics.
type MetricsProvider interface {
	// CollectMetrics refreshes the component's gauges.
	CollectMetrics(ctx context.Context) error
}

// Collector periodically asks registered providers to refresh their gauges.
type Collector struct {
	mu        sync.RWMutex
	providers map[string]MetricsProvider
	interval  time.Duration
	version   string
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewCollector creates a collector that refreshes every interval.
func NewCollector(interval time.Duration, version string) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		providers: make(map[string]MetricsProvider),
		interval:  interval,
		version:   version,
	}
}

// Register adds a metrics provider to the collector.
func (c *Collector) Register(name string, provider MetricsProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = provider
}

// Unregister removes a metrics provider from the collector.
func (c *Collector) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.providers, name)
}

// Start performs an initial collection and begins periodic collection.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	DaemonStartTime.Set(float64(time.Now().Unix()))
	DaemonInfo.WithLabelValues(c.version, runtime.Version()).Set(1)

	c.collect(ctx)

	go c.run(ctx, stopCh, doneCh)
}

// Stop halts periodic collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	doneCh := c.doneCh
	c.mu.Unlock()

	<-doneCh
}

func (c *Collector) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			c.collect(ctx)
		}
	}
}

func (c *Collector) collect(ctx context.Context) {
	c.mu.RLock()
	providers := make(map[string]MetricsProvider, len(c.providers))
	for k, v := range c.providers {
		providers[k] = v
	}
	c.mu.RUnlock()

	for name, provider := range providers {
		if err := provider.CollectMetrics(ctx); err != nil {
			ComponentStatus.WithLabelValues(name).Set(0)
		} else {
			ComponentStatus.WithLabelValues(name).Set(1)
		}
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a handler for a specific registry.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordInvocation records one handler invocation.
func RecordInvocation(handler, outcome string, duration time.Duration) {
	HandlerInvocationsTotal.WithLabelValues(handler, outcome).Inc()
	HandlerDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// SetDaemonState marks state as the current lifecycle state.
func SetDaemonState(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		DaemonState.WithLabelValues(s).Set(v)
	}
}

// SetLockHeld records lock ownership.
func SetLockHeld(held bool) {
	LockHeld.Set(boolToFloat(held))
}

// SetHealth records the overall health verdict.
func SetHealth(healthy bool) {
	HealthOverall.Set(boolToFloat(healthy))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

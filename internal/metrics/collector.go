// Package metrics turns bus events into Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "chatsync"

// Collector owns a private registry fed from the event bus.
type Collector struct {
	registry *prometheus.Registry

	frames     *prometheus.CounterVec
	reconnects prometheus.Counter
	queueDepth prometheus.Gauge
	merged     *prometheus.CounterVec
	outboxSent prometheus.Counter
	status     *prometheus.GaugeVec

	connectedOnce bool

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
	server *http.Server
}

// New creates a collector and registers its metrics.
func New(b *bus.Bus, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Realtime frames by direction.",
		}, []string{"direction"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful realtime connections after the first.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Messages waiting in the offline queue.",
		}),
		merged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_merged_total",
			Help:      "Messages merged into local state by source.",
		}, []string{"source"}),
		outboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_sent_total",
			Help:      "Queued messages delivered after reconnect.",
		}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise.",
		}, []string{"state"}),
		bus:    b,
		logger: logger,
	}
	c.registry.MustRegister(c.frames, c.reconnects, c.queueDepth, c.merged, c.outboxSent, c.status)
	for _, s := range status.All {
		c.status.WithLabelValues(string(s)).Set(0)
	}
	c.status.WithLabelValues(string(status.Booting)).Set(1)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start consumes bus events until Stop.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.Subscribe("", 256)
	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.Observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends event consumption and shuts the HTTP endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// Serve exposes /metrics on addr in the background.
func (c *Collector) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server", zap.Error(err))
		}
	}()
	c.logger.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Observe updates metrics for one event. Start calls it for every bus event.
func (c *Collector) Observe(evt bus.Event) {
	switch evt.Kind {
	case bus.KindFrameIn:
		c.frames.WithLabelValues("in").Inc()
	case bus.KindFrameOut:
		c.frames.WithLabelValues("out").Inc()
	case bus.KindConnected:
		if c.connectedOnce {
			c.reconnects.Inc()
		}
		c.connectedOnce = true
	case bus.KindMerged:
		if p, ok := evt.Payload.(bus.MergedPayload); ok {
			c.merged.WithLabelValues(p.Source).Add(float64(p.Count))
		}
	case bus.KindOutboxQueued, bus.KindOutboxDeferred:
		if p, ok := evt.Payload.(bus.OutboxPayload); ok {
			c.queueDepth.Set(float64(p.Depth))
		}
	case bus.KindOutboxSent:
		c.outboxSent.Inc()
		if p, ok := evt.Payload.(bus.OutboxPayload); ok {
			c.queueDepth.Set(float64(p.Depth))
		}
	case bus.KindStatusChanged:
		if p, ok := evt.Payload.(status.StatusChange); ok {
			for _, s := range status.All {
				v := 0.0
				if s == p.To {
					v = 1
				}
				c.status.WithLabelValues(string(s)).Set(v)
			}
		}
	}
}

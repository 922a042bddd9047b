package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	c := New(bus.New(), nil)

	c.Observe(bus.Event{Kind: bus.KindFrameIn})
	c.Observe(bus.Event{Kind: bus.KindFrameIn})
	c.Observe(bus.Event{Kind: bus.KindFrameOut})
	c.Observe(bus.Event{Kind: bus.KindConnected})
	c.Observe(bus.Event{Kind: bus.KindConnected})
	c.Observe(bus.Event{Kind: bus.KindConnected})
	c.Observe(bus.Event{Kind: bus.KindMerged, Payload: bus.MergedPayload{Source: "sync", Count: 4}})
	c.Observe(bus.Event{Kind: bus.KindOutboxQueued, Payload: bus.OutboxPayload{Depth: 2}})
	c.Observe(bus.Event{Kind: bus.KindOutboxSent, Payload: bus.OutboxPayload{Depth: 1}})
	c.Observe(bus.Event{Kind: bus.KindStatusChanged, Payload: status.StatusChange{From: status.Booting, To: status.Ready}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.frames.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.frames.WithLabelValues("out")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.reconnects))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.merged.WithLabelValues("sync")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outboxSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.status.WithLabelValues("READY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.status.WithLabelValues("BOOTING")))
}

func TestStartConsumesBus(t *testing.T) {
	b := bus.New()
	c := New(b, nil)
	c.Start(context.Background())

	b.Emit(bus.KindOutboxSent, bus.OutboxPayload{Depth: 0})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(c.outboxSent) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New(bus.New(), nil)
	c.Observe(bus.Event{Kind: bus.KindFrameOut})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Contains(t, string(body), `chatsync_frames_total{direction="out"} 1`)
	assert.True(t, strings.Contains(string(body), "chatsync_offline_queue_depth"))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.Sent("store")
	m.Sent("store")
	m.Received("store")
	m.Dropped("fallback", ReasonNoTransport)
	m.ListenerPanicked("chat")
	m.Queued("chat", 2)
	m.QueueDepth("chat", 0)
	m.Selected("store")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sentTotal.WithLabelValues("store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.receivedTotal.WithLabelValues("store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedTotal.WithLabelValues("fallback", ReasonNoTransport)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.listenerPanics.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queuedTotal.WithLabelValues("chat")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectedVariant.WithLabelValues("store")))
}

func TestMetricsRegisterTwiceAcrossInstances(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := New(reg)
	require.NoError(t, first.Register())

	second := New(reg)
	require.NoError(t, second.Register())

	second.Sent("channel")
	assert.Equal(t, 1.0, testutil.ToFloat64(first.sentTotal.WithLabelValues("channel")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		require.NoError(t, m.Register())
		m.Sent("x")
		m.Received("x")
		m.Dropped("x", ReasonMalformed)
		m.ListenerPanicked("x")
		m.Queued("x", 1)
		m.QueueDepth("x", 0)
		m.Selected("x")
	})

	var h *HubMetrics
	assert.NotPanics(t, func() {
		h.PeerJoined()
		h.PeerLeft()
		h.Forwarded()
		h.Dropped()
	})
}

func TestHubMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h, err := NewHubMetrics(reg)
	require.NoError(t, err)

	h.PeerJoined()
	h.PeerJoined()
	h.PeerLeft()
	h.Forwarded()
	h.Dropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(h.peers))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.forwarded))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.dropped))
}

// Package metrics exposes Prometheus collectors for the bus and the relay hub.
// Every method is safe to call on a nil receiver, which disables collection.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hermes"

// Drop reasons reported by transports.
const (
	ReasonNoTransport = "no_transport"
	ReasonMalformed   = "malformed"
	ReasonOwnEcho     = "own_echo"
	ReasonSendFailed  = "send_failed"
)

// Metrics tracks message flow through one or more buses.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	sentTotal       *prometheus.CounterVec
	receivedTotal   *prometheus.CounterVec
	droppedTotal    *prometheus.CounterVec
	listenerPanics  *prometheus.CounterVec
	queuedTotal     *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	selectedVariant *prometheus.GaugeVec
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGaugeVec(subsystem, name, help string, labels []string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the bus collectors. A nil registerer falls back to the default
// Prometheus registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:      registerer,
		sentTotal:       newCounterVec("", "messages_sent_total", "Messages handed to a transport", []string{"transport"}),
		receivedTotal:   newCounterVec("", "messages_received_total", "Messages received from a transport and dispatched", []string{"transport"}),
		droppedTotal:    newCounterVec("", "messages_dropped_total", "Messages dropped before dispatch or transmission", []string{"transport", "reason"}),
		listenerPanics:  newCounterVec("", "listener_panics_total", "Listeners that panicked during dispatch", []string{"topic"}),
		queuedTotal:     newCounterVec("store", "sends_queued_total", "Sends deferred because the topic slot was occupied", []string{"topic"}),
		queueDepth:      newGaugeVec("store", "send_queue_depth", "Sends waiting for the topic slot to clear", []string{"topic"}),
		selectedVariant: newGaugeVec("", "transport_selected", "Transport chosen at start-up (1 for the active variant)", []string{"transport"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	var err error
	if m.sentTotal, err = registerOrReuse(m.registerer, m.sentTotal); err != nil {
		return err
	}
	if m.receivedTotal, err = registerOrReuse(m.registerer, m.receivedTotal); err != nil {
		return err
	}
	if m.droppedTotal, err = registerOrReuse(m.registerer, m.droppedTotal); err != nil {
		return err
	}
	if m.listenerPanics, err = registerOrReuse(m.registerer, m.listenerPanics); err != nil {
		return err
	}
	if m.queuedTotal, err = registerOrReuse(m.registerer, m.queuedTotal); err != nil {
		return err
	}
	if m.queueDepth, err = registerOrReuse(m.registerer, m.queueDepth); err != nil {
		return err
	}
	if m.selectedVariant, err = registerOrReuse(m.registerer, m.selectedVariant); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor so several buses in one process share series.
func registerOrReuse[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) Sent(transport string) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) Received(transport string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(transport).Inc()
}

func (m *Metrics) Dropped(transport, reason string) {
	if m == nil {
		return
	}
	m.droppedTotal.WithLabelValues(transport, reason).Inc()
}

// ListenerPanicked satisfies broadcast.PanicObserver.
func (m *Metrics) ListenerPanicked(topic string) {
	if m == nil {
		return
	}
	m.listenerPanics.WithLabelValues(topic).Inc()
}

// Queued records a deferred send and the resulting queue depth.
func (m *Metrics) Queued(topic string, depth int) {
	if m == nil {
		return
	}
	m.queuedTotal.WithLabelValues(topic).Inc()
	m.queueDepth.WithLabelValues(topic).Set(float64(depth))
}

// QueueDepth records the queue depth after a drain step.
func (m *Metrics) QueueDepth(topic string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(topic).Set(float64(depth))
}

func (m *Metrics) Selected(transport string) {
	if m == nil {
		return
	}
	m.selectedVariant.WithLabelValues(transport).Set(1)
}

// HubMetrics tracks the relay hub.
type HubMetrics struct {
	peers     prometheus.Gauge
	forwarded prometheus.Counter
	dropped   prometheus.Counter
}

// NewHubMetrics creates and registers the relay hub collectors.
func NewHubMetrics(registerer prometheus.Registerer) (*HubMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &HubMetrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "relay", Name: "peers",
			Help: "Currently connected relay peers",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "frames_forwarded_total",
			Help: "Frames queued for delivery to a peer",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "frames_dropped_total",
			Help: "Frames dropped because a peer's outbound queue was full",
		}),
	}
	var err error
	if m.peers, err = registerOrReuse(registerer, m.peers); err != nil {
		return nil, err
	}
	if m.forwarded, err = registerOrReuse(registerer, m.forwarded); err != nil {
		return nil, err
	}
	if m.dropped, err = registerOrReuse(registerer, m.dropped); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HubMetrics) PeerJoined() {
	if m == nil {
		return
	}
	m.peers.Inc()
}

func (m *HubMetrics) PeerLeft() {
	if m == nil {
		return
	}
	m.peers.Dec()
}

func (m *HubMetrics) Forwarded() {
	if m == nil {
		return
	}
	m.forwarded.Inc()
}

func (m *HubMetrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

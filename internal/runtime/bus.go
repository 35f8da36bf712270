package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/hermes/internal/runtime/broadcast"
	configpkg "github.com/drblury/hermes/internal/runtime/config"
	"github.com/drblury/hermes/internal/runtime/envelope"
	errspkg "github.com/drblury/hermes/internal/runtime/errors"
	idspkg "github.com/drblury/hermes/internal/runtime/ids"
	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
	metricspkg "github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/storage"
	transportpkg "github.com/drblury/hermes/internal/runtime/transport"
	"github.com/drblury/hermes/internal/runtime/variant"
)

// TracerName is the instrumentation name used when Dependencies.Tracer is nil.
const TracerName = "github.com/drblury/hermes"

// Dependencies holds the optional collaborators that the Bus can use.
// Leave fields nil to use the defaults.
type Dependencies struct {
	// Candidates replaces the default probe order (fan-out, relay, store, fallback).
	Candidates []Candidate
	// Registerer receives the hermes collectors. Setting it enables metrics
	// even when Config.MetricsEnabled is false.
	Registerer prometheus.Registerer
	// Store is used by the shared-store transport instead of Config.StoreSystem.
	Store storage.Store
	// MemoryStore backs StoreSystem "memory"; storage.Default when nil.
	MemoryStore *storage.Memory
	// TransportFactory builds the fan-out backend.
	TransportFactory transportpkg.Factory
	// Tracer starts the send spans; the global provider is used when nil.
	Tracer trace.Tracer
	// Hooks run around every Send.
	Hooks SendHooks
}

// SendOption customises a single Send call.
type SendOption func(*sendOptions)

type sendOptions struct {
	includeSelf bool
}

// WithIncludeSelf also delivers the message to this bus's own listeners.
func WithIncludeSelf() SendOption {
	return func(o *sendOptions) {
		o.includeSelf = true
	}
}

// Bus is one context's handle on the cross-context broadcast. The transport
// is chosen once in New and never changes.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	variant   variant.Variant
	contextID string
	tracer    trace.Tracer
	hooks     SendHooks

	mu     sync.RWMutex
	closed bool
}

// New validates conf, probes the transports in order and binds the returned
// Bus to the first one available.
func New(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf = conf.WithDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	contextID := idspkg.NewContextID()
	log = log.With(loggingpkg.LogFields{"context_id": contextID})

	var metrics *metricspkg.Metrics
	if conf.MetricsEnabled || deps.Registerer != nil {
		metrics = metricspkg.New(deps.Registerer)
		if err := metrics.Register(); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}

	candidates := deps.Candidates
	if len(candidates) == 0 {
		candidates = DefaultCandidates(conf, deps)
	}

	vdeps := variant.Deps{
		Registry:  broadcast.NewRegistry(log, metrics),
		Logger:    log,
		Metrics:   metrics,
		ContextID: contextID,
	}
	selected := NewSelector(log, metrics, candidates...).Select(ctx, vdeps)

	log.Info("Created hermes bus", loggingpkg.LogFields{
		"transport": selected.Name(),
		"config":    conf,
	})

	return &Bus{
		Conf:      conf,
		Logger:    log,
		variant:   selected,
		contextID: contextID,
		tracer:    tracer,
		hooks:     deps.Hooks,
	}, nil
}

// MustNew is like New but panics on error.
func MustNew(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) *Bus {
	bus, err := New(ctx, conf, log, deps)
	if err != nil {
		panic(err)
	}
	return bus
}

// Subscribe registers l for topic on this bus only.
func (b *Bus) Subscribe(topic string, l *broadcast.Listener) {
	b.variant.Subscribe(topic, l)
}

// Unsubscribe removes l from topic, or the whole topic when l is nil.
func (b *Bus) Unsubscribe(topic string, l *broadcast.Listener) {
	b.variant.Unsubscribe(topic, l)
}

// Send encodes payload and broadcasts it to every other context. Send does
// not wait for delivery.
func (b *Bus) Send(ctx context.Context, topic string, payload any, opts ...SendOption) error {
	if b.isClosed() {
		return errspkg.ErrClosed
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	encoded, err := envelope.Encode(payload)
	if err != nil {
		return err
	}

	ctx, span := b.tracer.Start(ctx, "hermes.send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "hermes"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("hermes.transport", b.variant.Name()),
			attribute.Bool("hermes.include_self", o.includeSelf),
			attribute.Int("messaging.message.body.size", len(encoded)),
		),
	)
	defer span.End()

	hctx := SendContext{
		Context:     ctx,
		Topic:       topic,
		Transport:   b.variant.Name(),
		ContextID:   b.contextID,
		IncludeSelf: o.includeSelf,
		Size:        len(encoded),
		StartedAt:   time.Now(),
	}
	b.hooks.send(hctx)

	err = b.variant.Send(ctx, topic, encoded, o.includeSelf)
	hctx.Duration = time.Since(hctx.StartedAt)
	b.hooks.done(hctx, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("hermes: send %q via %s: %w", topic, b.variant.Name(), err)
	}
	return nil
}

// Transport reports the name of the selected variant.
func (b *Bus) Transport() string {
	return b.variant.Name()
}

// ContextID is the identifier this bus stamps on outgoing traffic.
func (b *Bus) ContextID() string {
	return b.contextID
}

// Close stops the receive loops and releases the transport. Later calls
// return nil.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.Logger.Debug("Closing hermes bus", loggingpkg.LogFields{"transport": b.variant.Name()})
	return b.variant.Close()
}

func (b *Bus) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

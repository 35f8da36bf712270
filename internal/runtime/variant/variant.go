// Package variant defines the contract shared by every cross-context
// transport and the helpers they use to hand inbound messages to the
// registry.
package variant

import (
	"context"

	"github.com/drblury/hermes/internal/runtime/broadcast"
	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/metrics"
)

// Transport names reported by Variant.Name.
const (
	NameChannel  = "channel"
	NameRelay    = "relay"
	NameStore    = "store"
	NameFallback = "fallback"
)

// Variant moves payloads between contexts. Subscribe and Unsubscribe only
// touch the local registry; Send reaches every other context and, when
// includeSelf is set, dispatches once to this context too.
type Variant interface {
	Subscribe(topic string, l *broadcast.Listener)
	Unsubscribe(topic string, l *broadcast.Listener)
	Send(ctx context.Context, topic string, payload envelope.Payload, includeSelf bool) error
	Name() string
	Close() error
}

// Deps carries the per-context collaborators every variant needs.
type Deps struct {
	Registry  *broadcast.Registry
	Logger    logging.ServiceLogger
	Metrics   *metrics.Metrics
	ContextID string
}

// Base implements the registry half of Variant and the inbound delivery path.
// Variants embed it and add Send and Close.
type Base struct {
	Registry  *broadcast.Registry
	Logger    logging.ServiceLogger
	Metrics   *metrics.Metrics
	ContextID string

	name string
}

// NewBase fills in defaults for missing collaborators.
func NewBase(name string, deps Deps) Base {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	registry := deps.Registry
	if registry == nil {
		registry = broadcast.NewRegistry(logger, deps.Metrics)
	}
	return Base{
		Registry:  registry,
		Logger:    logger.With(logging.LogFields{"transport": name}),
		Metrics:   deps.Metrics,
		ContextID: deps.ContextID,
		name:      name,
	}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) Subscribe(topic string, l *broadcast.Listener) {
	b.Registry.Subscribe(topic, l)
}

func (b *Base) Unsubscribe(topic string, l *broadcast.Listener) {
	b.Registry.Unsubscribe(topic, l)
}

// Receive dispatches a payload that arrived from another context.
func (b *Base) Receive(topic string, payload envelope.Payload) {
	b.Metrics.Received(b.name)
	b.Logger.Trace("Message received", logging.LogFields{"topic": topic})
	b.Registry.Dispatch(topic, payload)
}

// ReceiveText parses raw payload text before dispatching it. Text that is not
// valid JSON is logged and dropped without reaching any listener.
func (b *Base) ReceiveText(topic string, text []byte) {
	payload, err := envelope.Parse(text)
	if err != nil {
		b.Drop(metrics.ReasonMalformed, err, logging.LogFields{"topic": topic})
		return
	}
	b.Receive(topic, payload)
}

// DispatchLocal delivers a payload to this context's own listeners.
func (b *Base) DispatchLocal(topic string, payload envelope.Payload) {
	b.Registry.Dispatch(topic, payload)
}

// Drop records and logs an inbound message that could not be delivered.
func (b *Base) Drop(reason string, err error, fields logging.LogFields) {
	b.Metrics.Dropped(b.name, reason)
	if fields == nil {
		fields = logging.LogFields{}
	}
	fields["reason"] = reason
	if err != nil {
		b.Logger.Error("Dropping inbound message", err, fields)
		return
	}
	b.Logger.Debug("Dropping inbound message", fields)
}

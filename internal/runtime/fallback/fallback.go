// Package fallback is the variant used when no cross-context transport is
// available. Sends never leave the context.
package fallback

import (
	"context"

	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/variant"
)

// Variant keeps messages inside the current context.
type Variant struct {
	variant.Base
}

// New returns the fallback variant and logs a single warning that other
// contexts will not receive messages.
func New(deps variant.Deps) *Variant {
	v := &Variant{Base: variant.NewBase(variant.NameFallback, deps)}
	v.Logger.Warn("No cross-context transport is available, messages stay in this context", logging.LogFields{
		"context_id": deps.ContextID,
	})
	return v
}

// Send dispatches locally when includeSelf is set and otherwise discards the
// payload.
func (v *Variant) Send(_ context.Context, topic string, payload envelope.Payload, includeSelf bool) error {
	if includeSelf {
		v.DispatchLocal(topic, payload)
		return nil
	}
	v.Metrics.Dropped(variant.NameFallback, metrics.ReasonNoTransport)
	v.Logger.Trace("Send discarded", logging.LogFields{"topic": topic})
	return nil
}

func (v *Variant) Close() error {
	return nil
}

package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
)

// SendContext describes one Bus.Send call to hooks.
type SendContext struct {
	// Context is the context passed to Send.
	Context context.Context
	// Topic is the topic the message was sent on.
	Topic string
	// Transport is the name of the variant that carried the message.
	Transport string
	// ContextID identifies the sending bus.
	ContextID string
	// IncludeSelf reports whether local listeners were also invoked.
	IncludeSelf bool
	// Size is the encoded payload size in bytes.
	Size int
	// StartedAt is when Send handed the payload to the transport.
	StartedAt time.Time
	// Duration is how long the transport took (only set in OnSent and OnSendError).
	Duration time.Duration
}

// SendHooks defines callbacks around Bus.Send.
// All hooks are optional - nil hooks are simply not called.
type SendHooks struct {
	// OnSend is called before the payload is handed to the transport.
	OnSend func(ctx SendContext)

	// OnSent is called after the transport accepted the payload.
	OnSent func(ctx SendContext)

	// OnSendError is called when the transport rejected the payload.
	OnSendError func(ctx SendContext, err error)
}

// Merge combines two SendHooks, creating a new SendHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h SendHooks) Merge(other SendHooks) SendHooks {
	return SendHooks{
		OnSend:      chainHooks(h.OnSend, other.OnSend),
		OnSent:      chainHooks(h.OnSent, other.OnSent),
		OnSendError: chainErrorHooks(h.OnSendError, other.OnSendError),
	}
}

func chainHooks(a, b func(SendContext)) func(SendContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx SendContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(SendContext, error)) func(SendContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx SendContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h SendHooks) send(ctx SendContext) {
	if h.OnSend != nil {
		h.OnSend(ctx)
	}
}

func (h SendHooks) done(ctx SendContext, err error) {
	if err != nil {
		if h.OnSendError != nil {
			h.OnSendError(ctx, err)
		}
		return
	}
	if h.OnSent != nil {
		h.OnSent(ctx)
	}
}

// LoggingHooks returns pre-built hooks that log every send.
func LoggingHooks(logger loggingpkg.ServiceLogger) SendHooks {
	return SendHooks{
		OnSent: func(ctx SendContext) {
			logger.Debug("Message sent", loggingpkg.LogFields{
				"topic":        ctx.Topic,
				"transport":    ctx.Transport,
				"include_self": ctx.IncludeSelf,
				"size":         ctx.Size,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnSendError: func(ctx SendContext, err error) {
			logger.Error("Message send failed", err, loggingpkg.LogFields{
				"topic":       ctx.Topic,
				"transport":   ctx.Transport,
				"size":        ctx.Size,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

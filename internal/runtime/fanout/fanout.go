// Package fanout implements the channel transport: every context publishes to
// and subscribes on one broker topic named after the channel. Messages carry
// the sender's context ID so a context can drop its own echoes.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hermes/internal/runtime/envelope"
	"github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/mailbox"
	"github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/variant"
	pubtransport "github.com/drblury/hermes/transport"

	herrors "github.com/drblury/hermes/internal/runtime/errors"
)

// MetadataOrigin carries the sending context's ID.
const MetadataOrigin = "hermes_origin"

// Variant publishes to a watermill fan-out topic that every context
// subscribes to, and skips messages stamped with its own origin.
type Variant struct {
	variant.Base

	transport pubtransport.Transport
	caps      pubtransport.Capabilities
	channel   string

	// inbox decouples acking from dispatch, so a listener that sends from
	// inside its callback never waits on its own subscription.
	inbox *mailbox.Mailbox[*message.Message]

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

// New subscribes to channel on tr and starts delivering. The variant owns tr
// and closes it on Close.
func New(tr pubtransport.Transport, caps pubtransport.Capabilities, channel string, deps variant.Deps) (*Variant, error) {
	if channel == "" {
		return nil, fmt.Errorf("%w: channel name", herrors.ErrConfigRequired)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := tr.Subscriber.Subscribe(subCtx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to channel %q: %w", channel, err)
	}

	v := &Variant{
		Base:      variant.NewBase(variant.NameChannel, deps),
		transport: tr,
		caps:      caps,
		channel:   channel,
		inbox:     mailbox.New[*message.Message](),
		cancel:    cancel,
		closed:    make(chan struct{}),
	}
	v.Logger = v.Logger.With(logging.LogFields{"backend": caps.Name, "channel": channel})

	v.inbox.Start(v.handle)
	go v.receive(messages)
	return v, nil
}

// Capabilities reports what the underlying backend can do.
func (v *Variant) Capabilities() pubtransport.Capabilities {
	return v.caps
}

func (v *Variant) Send(_ context.Context, topic string, payload envelope.Payload, includeSelf bool) error {
	err := v.publish(topic, payload)
	if includeSelf && !errors.Is(err, herrors.ErrClosed) {
		v.DispatchLocal(topic, payload)
	}
	return err
}

func (v *Variant) publish(topic string, payload envelope.Payload) error {
	select {
	case <-v.closed:
		return herrors.ErrClosed
	default:
	}

	data, err := envelope.MarshalChannel(topic, payload)
	if err != nil {
		return err
	}
	if !v.caps.Allows(len(data)) {
		v.Metrics.Dropped(variant.NameChannel, metrics.ReasonSendFailed)
		return fmt.Errorf("%w: %d bytes, %s allows %d", herrors.ErrMessageTooLarge, len(data), v.caps.Name, v.caps.MaxMessageSize)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(MetadataOrigin, v.ContextID)

	if err := v.transport.Publisher.Publish(v.channel, msg); err != nil {
		v.Metrics.Dropped(variant.NameChannel, metrics.ReasonSendFailed)
		return fmt.Errorf("failed to publish to channel %q: %w", v.channel, err)
	}
	v.Metrics.Sent(variant.NameChannel)
	return nil
}

func (v *Variant) receive(messages <-chan *message.Message) {
	for msg := range messages {
		msg.Ack()
		v.inbox.Push(msg)
	}
}

func (v *Variant) handle(msg *message.Message) {
	if msg.Metadata.Get(MetadataOrigin) == v.ContextID {
		v.Metrics.Dropped(variant.NameChannel, metrics.ReasonOwnEcho)
		return
	}

	env, err := envelope.UnmarshalChannel(msg.Payload)
	if err != nil {
		v.Drop(metrics.ReasonMalformed, err, logging.LogFields{"message_uuid": msg.UUID})
		return
	}
	v.Receive(env.Topic, env.Data)
}

// Close ends the subscription and closes the backend.
func (v *Variant) Close() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.closed)
		v.cancel()
		v.inbox.Close()
		err = v.transport.Close()
	})
	return err
}

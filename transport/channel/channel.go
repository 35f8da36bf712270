// Package channel provides the in-process fan-out transport. Every context in
// the process that builds it with the same channel name shares one Go channel
// pub/sub, so it only reaches contexts inside this process.
package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/hermes/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

var errMemberClosed = errors.New("channel transport is closed")

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build joins the process-wide pub/sub for the configured channel name.
func Build(ctx context.Context, cfg transport.Config, contextID string, logger watermill.LoggerAdapter) (transport.Transport, error) {
	m := join(cfg.GetChannelName(), logger)
	return transport.Transport{
		Publisher:  m,
		Subscriber: m,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}

type shared struct {
	pub  message.Publisher
	sub  message.Subscriber
	refs int
}

var (
	sharedMu sync.Mutex
	channels = make(map[string]*shared)
)

func join(name string, logger watermill.LoggerAdapter) *member {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	s, ok := channels[name]
	if !ok {
		// Blocking until every subscriber acked keeps one publisher's
		// messages in order.
		pub, sub := Factory(gochannel.Config{BlockPublishUntilSubscriberAck: true}, logger)
		s = &shared{pub: pub, sub: sub}
		channels[name] = s
	}
	s.refs++
	return &member{name: name, shared: s, closing: make(chan struct{})}
}

func leave(name string, s *shared) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	if channels[name] == s {
		delete(channels, name)
	}
	return transport.Transport{Publisher: s.pub, Subscriber: s.sub}.Close()
}

// member is one context's handle on a shared pub/sub. Closing it ends the
// context's subscriptions without affecting other members.
type member struct {
	name   string
	shared *shared

	closeOnce sync.Once
	closing   chan struct{}
}

func (m *member) Publish(topic string, messages ...*message.Message) error {
	select {
	case <-m.closing:
		return errMemberClosed
	default:
	}
	return m.shared.pub.Publish(topic, messages...)
}

func (m *member) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-m.closing:
		return nil, errMemberClosed
	default:
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-m.closing:
			cancel()
		case <-subCtx.Done():
		}
	}()
	return m.shared.sub.Subscribe(subCtx, topic)
}

func (m *member) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closing)
		err = leave(m.name, m.shared)
	})
	return err
}

// members returns the number of open handles on the named channel.
func members(name string) int {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if s, ok := channels[name]; ok {
		return s.refs
	}
	return 0
}

// Package transport defines the broker backends behind the hermes fan-out
// channel. Each backend lives in its own sub-package and registers itself
// with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and the subscriber. A value serving as both is
// closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !sameValue(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func sameValue(pub message.Publisher, sub message.Subscriber) (same bool) {
	if sub == nil {
		return false
	}
	defer func() {
		// Uncomparable dynamic types are never the same value.
		if recover() != nil {
			same = false
		}
	}()
	return any(pub) == any(sub)
}

// Builder creates a transport for one context. contextID lets a backend give
// each context its own subscription (queue name, consumer group) so every
// context receives every message on the channel.
type Builder func(ctx context.Context, cfg Config, contextID string, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
type Config interface {
	// GetChannelSystem returns the transport name.
	GetChannelSystem() string
	// GetChannelName returns the topic every context publishes to.
	GetChannelName() string

	GetNATSURL() string
	GetRabbitMQURL() string
	GetKafkaBrokers() []string
	GetKafkaConsumerGroupPrefix() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

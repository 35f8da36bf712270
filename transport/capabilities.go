package transport

// Capabilities describes how a backend behaves as a fan-out channel.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// CrossProcess indicates contexts in other processes can be reached.
	// When false, only contexts sharing the process see each other.
	CrossProcess bool

	// EchoesToSender indicates a publisher's own subscription receives its
	// messages back. Hermes drops such echoes by origin.
	EchoesToSender bool

	// SupportsOrdering indicates messages from one publisher arrive in
	// publish order.
	SupportsOrdering bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Version is the transport/driver version.
	Version string
}

// RequiresEchoFilter reports whether received messages may include the
// receiver's own sends.
func (c Capabilities) RequiresEchoFilter() bool {
	return c.EchoesToSender
}

// Allows reports whether a message of size bytes fits the backend's limit.
func (c Capabilities) Allows(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for the in-process Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		CrossProcess:     false,
		EchoesToSender:   true,
		SupportsOrdering: true,
	}

	// NATSCapabilities for NATS Core. Publisher and subscriber use separate
	// connections, so a context hears its own messages.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		CrossProcess:     true,
		EchoesToSender:   true,
		SupportsOrdering: true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for a fanout exchange with one queue per context.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		CrossProcess:     true,
		EchoesToSender:   true,
		SupportsOrdering: true,
		MaxMessageSize:   134217728, // 128MB server default
	}

	// KafkaCapabilities for Kafka with one consumer group per context.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		CrossProcess:     true,
		EchoesToSender:   true,
		SupportsOrdering: true,
		MaxMessageSize:   1048576, // Default 1MB
	}
)

// GetCapabilities returns the capabilities for a transport by name.
// Returns a Capabilities value with only Name set if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}

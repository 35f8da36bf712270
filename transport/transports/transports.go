// Package transports imports all built-in fan-out transports for
// auto-registration with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/hermes/transport/channel"
	_ "github.com/drblury/hermes/transport/kafka"
	_ "github.com/drblury/hermes/transport/nats"
	_ "github.com/drblury/hermes/transport/rabbitmq"
)

// Package transport builds the fan-out backend selected by configuration.
// Backend implementations live in github.com/drblury/hermes/transport/*.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/hermes/internal/runtime/config"
	pubtransport "github.com/drblury/hermes/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/hermes/transport/transports"
)

// Transport is a built backend together with what it can do.
type Transport struct {
	pubtransport.Transport
	Capabilities pubtransport.Capabilities
}

// Factory abstracts how hermes initialises fan-out backends.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, contextID string, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the built-in factory backed by the modular
// transport registry.
func DefaultFactory() Factory {
	return registryFactory{registry: pubtransport.DefaultRegistry}
}

// RegistryFactory builds from registry instead of the default one.
func RegistryFactory(registry *pubtransport.Registry) Factory {
	return registryFactory{registry: registry}
}

type registryFactory struct {
	registry *pubtransport.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, contextID string, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := f.registry.Build(ctx, conf, contextID, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Transport:    t,
		Capabilities: f.registry.GetCapabilities(conf.GetChannelSystem()),
	}, nil
}

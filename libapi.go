package hermes

import (
	runtimepkg "github.com/drblury/hermes/internal/runtime"
	"github.com/drblury/hermes/internal/runtime/broadcast"
	configpkg "github.com/drblury/hermes/internal/runtime/config"
	"github.com/drblury/hermes/internal/runtime/envelope"
	errspkg "github.com/drblury/hermes/internal/runtime/errors"
	jsoncodec "github.com/drblury/hermes/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/relay"
	"github.com/drblury/hermes/internal/runtime/storage"
	transportpkg "github.com/drblury/hermes/internal/runtime/transport"
	"github.com/drblury/hermes/internal/runtime/variant"
	newtransport "github.com/drblury/hermes/transport"
)

type (
	Config       = configpkg.Config
	Bus          = runtimepkg.Bus
	Dependencies = runtimepkg.Dependencies
	SendOption   = runtimepkg.SendOption

	Listener = broadcast.Listener
	Payload  = envelope.Payload

	// Transport selection
	Candidate = runtimepkg.Candidate
	ProbeFunc = runtimepkg.ProbeFunc
	Selector  = runtimepkg.Selector
	Variant   = variant.Variant
	// VariantDeps is what a probe receives to build its variant.
	VariantDeps = variant.Deps

	// Send hooks
	SendContext = runtimepkg.SendContext
	SendHooks   = runtimepkg.SendHooks

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ProbeError = errspkg.ProbeError

	// Shared store
	Store         = storage.Store
	Claimer       = storage.Claimer
	StoreEvent    = storage.Event
	MemoryStore   = storage.Memory
	RedisStore    = storage.Redis
	PostgresStore = storage.Postgres

	// Relay hub
	RelayHub       = relay.Hub
	RelayHubOption = relay.HubOption

	// Fan-out backends
	TransportFactory      = transportpkg.Factory
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	New            = runtimepkg.New
	MustNew        = runtimepkg.MustNew
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewListener       = broadcast.NewListener
	WithIncludeSelf   = runtimepkg.WithIncludeSelf
	EncodePayload     = envelope.Encode
	NewSelector       = runtimepkg.NewSelector
	DefaultCandidates = runtimepkg.DefaultCandidates
	LoggingHooks      = runtimepkg.LoggingHooks

	NewMemoryStore    = storage.NewMemory
	OpenRedisStore    = storage.OpenRedis
	NewRedisStore     = storage.NewRedis
	OpenPostgresStore = storage.OpenPostgres

	NewRelayHub         = relay.NewHub
	WithPeerQueueSize   = relay.WithPeerQueueSize
	WithCheckOrigin     = relay.WithCheckOrigin
	WithRelayHubMetrics = relay.WithHubMetrics

	DefaultTransportRegistry          = newtransport.DefaultRegistry
	RegisterTransport                 = newtransport.Register
	RegisterTransportWithCapabilities = newtransport.RegisterWithCapabilities
	NewTransportFactory               = transportpkg.RegistryFactory

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal

	ErrTopicRequired    = errspkg.ErrTopicRequired
	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrStoreRequired    = errspkg.ErrStoreRequired
	ErrClosed           = errspkg.ErrClosed
	ErrMalformedPayload = errspkg.ErrMalformedPayload
	ErrMessageTooLarge  = errspkg.ErrMessageTooLarge
	ErrCapabilityAbsent = errspkg.ErrCapabilityAbsent

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
)

// Transport names reported by Bus.Transport.
const (
	TransportChannel  = variant.NameChannel
	TransportRelay    = variant.NameRelay
	TransportStore    = variant.NameStore
	TransportFallback = variant.NameFallback
)

// Store systems accepted in Config.StoreSystem.
const (
	StoreMemory   = configpkg.StoreMemory
	StoreRedis    = configpkg.StoreRedis
	StorePostgres = configpkg.StorePostgres
)

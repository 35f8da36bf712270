package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	configpkg "github.com/drblury/hermes/internal/runtime/config"
	errspkg "github.com/drblury/hermes/internal/runtime/errors"
	"github.com/drblury/hermes/internal/runtime/fanout"
	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
	"github.com/drblury/hermes/internal/runtime/relay"
	"github.com/drblury/hermes/internal/runtime/shared"
	"github.com/drblury/hermes/internal/runtime/storage"
	transportpkg "github.com/drblury/hermes/internal/runtime/transport"
	"github.com/drblury/hermes/internal/runtime/variant"
)

// Candidate names in default probe order.
const (
	CandidateFanout = "fanout"
	CandidateRelay  = "relay"
	CandidateStore  = "store"
)

// DefaultCandidates returns the fixed probe order: fan-out channel, relay
// process, shared store. The selector appends the fallback itself.
func DefaultCandidates(conf *configpkg.Config, deps Dependencies) []Candidate {
	return []Candidate{
		{Name: CandidateFanout, Probe: FanoutProbe(conf, deps.TransportFactory)},
		{Name: CandidateRelay, Probe: RelayProbe(conf)},
		{Name: CandidateStore, Probe: StoreProbe(conf, deps.Store, deps.MemoryStore)},
	}
}

// FanoutProbe builds the backend named by Config.ChannelSystem and joins
// Config.ChannelName on it.
func FanoutProbe(conf *configpkg.Config, factory transportpkg.Factory) ProbeFunc {
	return func(ctx context.Context, deps variant.Deps) (variant.Variant, error) {
		if conf.ChannelSystem == "" {
			return nil, errspkg.ErrCapabilityAbsent
		}
		f := factory
		if f == nil {
			f = transportpkg.DefaultFactory()
		}
		logger := deps.Logger
		if logger == nil {
			logger = loggingpkg.NewDiscardLogger()
		}

		tr, err := f.Build(ctx, conf, deps.ContextID, loggingpkg.NewWatermillAdapter(logger))
		if err != nil {
			return nil, err
		}
		v, err := fanout.New(tr.Transport, tr.Capabilities, conf.ChannelName, deps)
		if err != nil {
			return nil, errors.Join(err, tr.Close())
		}
		return v, nil
	}
}

// RelayProbe dials the hub at Config.RelayURL.
func RelayProbe(conf *configpkg.Config) ProbeFunc {
	return func(ctx context.Context, deps variant.Deps) (variant.Variant, error) {
		if conf.RelayURL == "" {
			return nil, errspkg.ErrCapabilityAbsent
		}
		v, err := relay.Dial(ctx, conf.RelayURL, conf.RelayDialTimeout, deps)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// StoreProbe opens the shared store. An explicit store takes precedence over
// Config.StoreSystem.
func StoreProbe(conf *configpkg.Config, store storage.Store, memory *storage.Memory) ProbeFunc {
	return func(ctx context.Context, deps variant.Deps) (variant.Variant, error) {
		s := store
		if s == nil {
			opened, err := openStore(ctx, conf, memory, deps)
			if err != nil {
				return nil, err
			}
			s = opened
		}
		v, err := shared.New(s, conf.StorePrefix, deps)
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		return v, nil
	}
}

func openStore(ctx context.Context, conf *configpkg.Config, memory *storage.Memory, deps variant.Deps) (storage.Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = loggingpkg.NewDiscardLogger()
	}
	switch strings.ToLower(conf.StoreSystem) {
	case "":
		return nil, errspkg.ErrCapabilityAbsent
	case configpkg.StoreMemory:
		if memory == nil {
			memory = storage.Default
		}
		return memory.Open(), nil
	case configpkg.StoreRedis:
		r, err := storage.OpenRedis(ctx, conf.RedisURL, conf.RedisChannel, deps.ContextID, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	case configpkg.StorePostgres:
		p, err := storage.OpenPostgres(ctx, conf.PostgresURL, conf.PostgresChannel, deps.ContextID, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown store system %q", conf.StoreSystem)
	}
}

package runtime

import (
	"context"
	"errors"

	errspkg "github.com/drblury/hermes/internal/runtime/errors"
	"github.com/drblury/hermes/internal/runtime/fallback"
	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
	metricspkg "github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/variant"
)

// ProbeFunc tries to bring up one transport. It returns
// errors.ErrCapabilityAbsent when the transport is not configured and any
// other error when it is configured but unusable.
type ProbeFunc func(ctx context.Context, deps variant.Deps) (variant.Variant, error)

// Candidate is one entry in the selector's probe order.
type Candidate struct {
	Name  string
	Probe ProbeFunc
}

// Selector picks the first transport whose probe succeeds.
type Selector struct {
	logger     loggingpkg.ServiceLogger
	metrics    *metricspkg.Metrics
	candidates []Candidate
}

// NewSelector returns a Selector that probes candidates in the given order.
func NewSelector(logger loggingpkg.ServiceLogger, metrics *metricspkg.Metrics, candidates ...Candidate) *Selector {
	if logger == nil {
		logger = loggingpkg.NewDiscardLogger()
	}
	return &Selector{logger: logger, metrics: metrics, candidates: candidates}
}

// Select runs the probes once. When every candidate fails the fallback
// variant is returned, so Select never fails.
func (s *Selector) Select(ctx context.Context, deps variant.Deps) variant.Variant {
	for _, c := range s.candidates {
		if c.Probe == nil {
			continue
		}
		v, err := c.Probe(ctx, deps)
		if err != nil {
			if !errors.Is(err, errspkg.ErrCapabilityAbsent) {
				s.logger.Error("Transport probe failed, trying next", errspkg.ProbeError{Transport: c.Name, Err: err}, loggingpkg.LogFields{
					"transport": c.Name,
				})
			} else {
				s.logger.Debug("Transport not configured", loggingpkg.LogFields{"transport": c.Name})
			}
			continue
		}
		if v == nil {
			continue
		}
		s.selected(v)
		return v
	}

	v := fallback.New(deps)
	s.selected(v)
	return v
}

func (s *Selector) selected(v variant.Variant) {
	s.metrics.Selected(v.Name())
	s.logger.Info("Transport selected", loggingpkg.LogFields{"transport": v.Name()})
}

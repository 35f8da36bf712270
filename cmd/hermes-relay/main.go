// Command hermes-relay runs the hub that relay transports connect to. Every
// frame a peer sends is forwarded to all other connected peers.
//
// Configuration is read from HERMES_* environment variables:
//
//	HERMES_RELAY_LISTEN_ADDRESS  listen address (default ":8090")
//	HERMES_RELAY_PATH            WebSocket path (default "/hermes")
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/hermes/internal/runtime/config"
	loggingpkg "github.com/drblury/hermes/internal/runtime/logging"
	metricspkg "github.com/drblury/hermes/internal/runtime/metrics"
	"github.com/drblury/hermes/internal/runtime/relay"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := loggingpkg.NewSlogServiceLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := configpkg.Load()
	if err != nil {
		logger.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}
	cfg = cfg.WithDefaults()

	if err := run(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer); err != nil {
		logger.Error("Relay stopped with error", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *configpkg.Config, logger loggingpkg.ServiceLogger, registerer prometheus.Registerer, gatherer prometheus.Gatherer) error {
	hub, srv, err := newServer(cfg, logger, registerer, gatherer)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Relay listening", loggingpkg.LogFields{
			"address": cfg.RelayListenAddress,
			"path":    cfg.RelayPath,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down relay", loggingpkg.LogFields{"peers": hub.Peers()})
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newServer(cfg *configpkg.Config, logger loggingpkg.ServiceLogger, registerer prometheus.Registerer, gatherer prometheus.Gatherer) (*relay.Hub, *http.Server, error) {
	hubMetrics, err := metricspkg.NewHubMetrics(registerer)
	if err != nil {
		return nil, nil, err
	}
	hub := relay.NewHub(logger, relay.WithHubMetrics(hubMetrics))

	mux := http.NewServeMux()
	mux.Handle(cfg.RelayPath, hub)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return hub, &http.Server{
		Addr:              cfg.RelayListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}, nil
}

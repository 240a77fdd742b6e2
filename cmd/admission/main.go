// The admission binary serves the thin HTTP facade: POST /payment and
// POST /payment/{id}/refund. It shares the storage schema and provider
// client with the worker binary but runs none of the background loops.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/paygateway/server/internal/admission"
	"github.com/paygateway/server/internal/circuitbreaker"
	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/lifecycle"
	"github.com/paygateway/server/internal/logger"
	"github.com/paygateway/server/internal/metrics"
	"github.com/paygateway/server/internal/provider"
	"github.com/paygateway/server/internal/storage"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("admission.config_error")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Logging.Service + "-admission",
		Environment: cfg.Logging.Environment,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resources := lifecycle.NewManager()
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	store, err := storage.NewPostgresStore(cfg.Postgres, metricsCollector)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("admission.store_error")
	}
	resources.Register("storage", store)

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	providerClient := provider.NewClient(cfg.Provider, breaker, metricsCollector)

	service := admission.NewService(store, providerClient)
	server := admission.NewServer(cfg.Admission, service, metricsCollector, appLogger)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLogger.Error().Err(err).Msg("admission.shutdown_error")
		}
	}()

	appLogger.Info().Str("address", cfg.Admission.Address).Msg("admission.listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Fatal().Err(err).Msg("admission.serve_error")
	}

	if err := resources.Close(); err != nil {
		appLogger.Error().Err(err).Msg("admission.close_error")
	}
	appLogger.Info().Msg("admission.stopped")
}

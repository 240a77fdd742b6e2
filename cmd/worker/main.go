// The worker binary runs the durable-workflow engine: the poll, refund,
// and notification loops. Multiple replicas can run against the same
// database; row-level claim locks keep their work disjoint.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/paygateway/server/internal/config"
	"github.com/paygateway/server/internal/core"
	"github.com/paygateway/server/internal/logger"
)

func main() {
	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("worker.config_error")
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Logging.Service + "-worker",
		Environment: cfg.Logging.Environment,
	})

	ctx := logger.WithContext(context.Background(), appLogger)
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := core.NewApp(cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("worker.init_error")
	}

	runErr := app.Run(ctx)

	if err := app.Close(); err != nil {
		appLogger.Error().Err(err).Msg("worker.close_error")
	}
	if runErr != nil {
		appLogger.Fatal().Err(runErr).Msg("worker.run_error")
	}
	appLogger.Info().Msg("worker.stopped")
}

package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.uber.org/zap"

	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/gateway"
	"github.com/tokengraph-labs/tokengraph/internal/graph"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/storage"
	"github.com/tokengraph-labs/tokengraph/internal/utils/logger"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting gateway...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	var zapLogger *zap.Logger
	if strings.ToLower(cfg.Environment) == "prod" {
		zapLogger, err = zap.NewProduction()
	} else {
		zapLogger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init request logger")
	}
	defer func() { _ = zapLogger.Sync() }()

	db, err := storage.Open(filepath.Join(cfg.DataDir, "gateway-db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local database")
	}
	defer db.Close()

	reg := registry.NewRegistry(db)
	srv := gateway.NewServer(&cfg.GatewayEnvConfig, reg, graph.NewMemoryStore(), cfg.ValidatorEnvConfig.Token, zapLogger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping gateway")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("gateway shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway server failed")
	}
	log.Info().Msg("gateway stopped")
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/miner"
	"github.com/tokengraph-labs/tokengraph/internal/utils/logger"
	"github.com/tokengraph-labs/tokengraph/pkg/signature"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting miner...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	srv, err := miner.NewServer(&cfg.ServerEnvConfig, signature.NewVerifier())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init miner server")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping miner")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("miner shutdown failed")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("miner server failed")
	}
	log.Info().Msg("miner stopped")
}

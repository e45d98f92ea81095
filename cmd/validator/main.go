package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/cache"
	"github.com/tokengraph-labs/tokengraph/internal/chain"
	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/graph"
	"github.com/tokengraph-labs/tokengraph/internal/minerclient"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/scoring"
	"github.com/tokengraph-labs/tokengraph/internal/snapshot"
	"github.com/tokengraph-labs/tokengraph/internal/storage"
	"github.com/tokengraph-labs/tokengraph/internal/twitter"
	"github.com/tokengraph-labs/tokengraph/internal/utils/logger"
	"github.com/tokengraph-labs/tokengraph/internal/validator"
	"github.com/tokengraph-labs/tokengraph/internal/weights"
	"github.com/tokengraph-labs/tokengraph/pkg/signature"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}

	keypair, err := signature.LoadKeypairFromHotkey(cfg.WalletName, cfg.WalletHotkey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load validator keypair")
	}

	validatorKey := cfg.ValidatorKey
	if validatorKey == "" {
		validatorKey = signature.ToSS58Address(keypair)
	}

	signer, err := signature.NewProvider(keypair)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init signature provider")
	}

	chainClient, err := chain.NewClient(&cfg.ChainEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init chain client")
	}

	db, err := storage.Open(filepath.Join(cfg.DataDir, "validator-db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local database")
	}
	defer db.Close()

	reg := registry.NewRegistry(db)
	tweetCache := cache.NewTweetCache(db)
	userCache := cache.NewUserCache(db)

	twitterSvc, err := twitter.NewService(&cfg.TwitterEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init twitter service")
	}

	engine := scoring.NewEngine(reg, tweetCache, userCache, twitterSvc)

	weightStorage := weights.NewStorage(filepath.Join(cfg.DataDir, cfg.WeightsFile))
	allocator := weights.NewAllocator(weightStorage, chainClient, validatorKey, cfg.ValidatorEnvConfig.Netuid)

	fetcher, err := snapshot.NewFetcher(&cfg.IpfsEnvConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init snapshot fetcher")
	}

	miners := minerclient.NewClient(&cfg.ValidatorEnvConfig.ClientEnvConfig, signer, validatorKey)
	graphStore := graph.NewMemoryStore()

	v := validator.NewValidator(
		&cfg.ValidatorEnvConfig,
		chainClient,
		miners,
		reg,
		engine,
		allocator,
		fetcher,
		graphStore,
		validatorKey,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := v.Run(ctx); err != nil {
		log.Error().Err(err).Msg("validator exited with error")
		os.Exit(1)
	}
	log.Info().Msg("validator stopped")
}

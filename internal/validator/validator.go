// Package validator implements the validator runtime: miner discovery,
// challenge/dataset verification, scoring and weight setting.
package validator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/chain"
	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/graph"
	"github.com/tokengraph-labs/tokengraph/internal/minerclient"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/scoring"
	"github.com/tokengraph-labs/tokengraph/internal/snapshot"
	"github.com/tokengraph-labs/tokengraph/internal/weights"
)

// Protocol modes. A deployment picks one and never mixes them.
const (
	ModeSnapshot  = "snapshot"
	ModeChallenge = "challenge"
)

// ErrNotRegistered is the one fatal condition: the validator's own key is
// missing from the resolved module map.
var ErrNotRegistered = errors.New("validator key is not registered on the network")

// Validator ties the registry, scoring engine and weight allocator together
// across an unbounded number of iterations.
type Validator struct {
	Chain     chain.ClientInterface
	Miners    minerclient.ClientInterface
	Registry  *registry.Registry
	Engine    *scoring.Engine
	Allocator *weights.Allocator
	Fetcher   snapshot.FetcherInterface
	Graph     graph.StoreInterface // optional, may be nil

	ValidatorKey    string
	ValidatorConfig *config.ValidatorEnvConfig
	IntervalConfig  *config.IntervalConfig
}

// NewValidator constructs a Validator with intervals based on environment.
func NewValidator(
	cfg *config.ValidatorEnvConfig,
	chainClient chain.ClientInterface,
	miners minerclient.ClientInterface,
	reg *registry.Registry,
	engine *scoring.Engine,
	allocator *weights.Allocator,
	fetcher snapshot.FetcherInterface,
	graphStore graph.StoreInterface,
	validatorKey string,
) *Validator {
	return &Validator{
		Chain:           chainClient,
		Miners:          miners,
		Registry:        reg,
		Engine:          engine,
		Allocator:       allocator,
		Fetcher:         fetcher,
		Graph:           graphStore,
		ValidatorKey:    validatorKey,
		ValidatorConfig: cfg,
		IntervalConfig:  config.NewIntervalConfig(cfg.Environment),
	}
}

// Run executes validation iterations until the context is canceled or a
// fatal condition is hit. Cancellation is observed between iterations and
// during the inter-iteration sleep, never mid-miner.
func (v *Validator) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			log.Info().Msg("Terminating validation loop")
			return nil
		}

		start := time.Now()
		if err := v.validateStep(ctx); err != nil {
			if errors.Is(err, ErrNotRegistered) {
				log.Error().Err(err).Msg("fatal: validator not registered")
				return err
			}
			log.Error().Err(err).Msg("validation step failed")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Terminating validation loop")
			return nil
		}

		elapsed := time.Since(start)
		remaining := v.IntervalConfig.IterationInterval - elapsed
		if remaining > 0 {
			log.Info().Dur("sleep", remaining).Msg("Iteration complete, sleeping")
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info().Msg("Terminating validation loop")
				return nil
			case <-timer.C:
			}
		}
	}
}

package validator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/chain"
	"github.com/tokengraph-labs/tokengraph/internal/dataset"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/scoring"
	"github.com/tokengraph-labs/tokengraph/internal/weights"
)

// minerTarget is one entry of the per-iteration worklist.
type minerTarget struct {
	UID      int
	Key      string
	Addr     string
	Emission float64
}

// validateStep runs one full iteration: discovery, per-miner verification in
// parallel, score accumulation and weight setting.
func (v *Validator) validateStep(ctx context.Context) error {
	modules, err := v.Chain.ResolveModules(v.ValidatorConfig.Netuid)
	if err != nil {
		return fmt.Errorf("resolve modules: %w", err)
	}
	addresses, err := v.Chain.ResolveAddresses(v.ValidatorConfig.Netuid)
	if err != nil {
		return fmt.Errorf("resolve addresses: %w", err)
	}

	if !chain.IsRegistered(v.ValidatorKey, modules) {
		return ErrNotRegistered
	}

	targets := make([]minerTarget, 0, len(modules))
	for key, mod := range modules {
		if key == v.ValidatorKey {
			continue
		}
		addr, ok := addresses[mod.UID]
		if !ok {
			continue
		}
		targets = append(targets, minerTarget{
			UID:      mod.UID,
			Key:      key,
			Addr:     addr,
			Emission: mod.Emission,
		})
	}

	log.Info().Int("miners", len(targets)).Msg("Found miners for this iteration")

	scores := make(map[int]float64)
	responded := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(t minerTarget) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("miner_key", t.Key).Interface("panic", r).Msg("miner task panicked")
				}
			}()

			score, ok := v.processMiner(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			scores[t.UID] = score
			if ok {
				responded++
			}
		}(target)
	}
	wg.Wait()

	if responded == 0 {
		log.Info().Msg("No miner managed to give a valid answer")
		return nil
	}

	if err := v.Allocator.SetWeights(scores, v.ValidatorConfig.MaxAllowedWeights); err != nil {
		log.Error().Err(err).Msg("Failed to set weights")
	}
	return nil
}

// processMiner runs discovery plus the configured protocol step for one
// miner. Any failure is logged and scored as zero for this iteration only.
func (v *Validator) processMiner(ctx context.Context, t minerTarget) (float64, bool) {
	discCtx, cancel := context.WithTimeout(ctx, v.IntervalConfig.DiscoveryTimeout)
	disc, err := v.Miners.Discovery(discCtx, t.Addr, protocol.DiscoveryRequest{
		ValidatorVersion: strconv.FormatFloat(protocol.Version, 'f', 1, 64),
		ValidatorKey:     v.ValidatorKey,
	})
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("miner failed discovery")
		return 0, false
	}
	if disc.Version != protocol.Version {
		log.Warn().
			Str("miner_key", t.Key).
			Float64("version", disc.Version).
			Msg("miner protocol version mismatch, dropping for this iteration")
		return 0, false
	}

	host, port := splitAddr(t.Addr)
	if err := v.Registry.Upsert(registry.MinerRecord{
		UID:          t.UID,
		MinerKey:     t.Key,
		Address:      host,
		Port:         port,
		Token:        disc.Token,
		Version:      disc.Version,
		GraphDB:      disc.GraphDB,
		SnapshotLink: disc.SnapshotLink,
	}); err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to upsert miner record")
		return 0, false
	}

	// Rank is refreshed from emission before any challenge is dispatched.
	if err := v.Registry.UpdateRank(t.Key, disc.Token, t.Emission); err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to update miner rank")
	}

	blacklisted, err := v.Registry.IsBlacklisted(t.Key, disc.Token)
	if err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to read blacklist flag")
		return 0, false
	}
	if blacklisted {
		log.Debug().Str("miner_key", t.Key).Msg("miner is blacklisted, scoring zero")
		return 0, true
	}

	switch v.ValidatorConfig.ProtocolMode {
	case ModeChallenge:
		return v.challengeMiner(ctx, t, disc)
	default:
		return v.scoreSnapshot(ctx, t, disc)
	}
}

// challengeMiner runs the live challenge round-trip and the scoring ladder.
func (v *Validator) challengeMiner(ctx context.Context, t minerTarget, disc *protocol.Discovery) (float64, bool) {
	chCtx, cancel := context.WithTimeout(ctx, v.IntervalConfig.ChallengeTimeout)
	resp, err := v.Miners.Challenge(chCtx, t.Addr, protocol.ChallengeRequest{ValidatorKey: v.ValidatorKey})
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("miner failed challenge")
		return 0, false
	}

	failed, err := v.Engine.VerifyChallenge(resp.Output)
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("challenge verification failed")
		return 0, false
	}

	if err := v.Registry.IncrementChallenges(t.Key, disc.Token, failed, scoring.TotalChallengeStep); err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to update challenge counters")
	}

	// A clean round marks the miner trusted; any miss clears the flag.
	if err := v.Registry.SetTrusted(t.Key, disc.Token, failed == 0); err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to update trusted flag")
	}

	multiplier, err := v.Registry.ReceiptMinerMultiplier(disc.Token, t.Key)
	if err != nil {
		log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to read receipt multiplier")
		multiplier = 1.0
	}

	score := scoring.ScoreChallenge(failed, multiplier)
	score *= v.tokenInfluence(disc.Token)

	log.Debug().
		Str("miner_key", t.Key).
		Int("failed_challenges", failed).
		Float64("score", score).
		Msg("challenge round scored")
	return score, true
}

// tokenInfluence returns the token's share of network weight after organic
// usage adjustment. Base weights span every token the registry knows, so a
// token nobody queries is floored at the minimum threshold while heavily
// queried tokens grow their share.
func (v *Validator) tokenInfluence(token string) float64 {
	base := map[string]float64{token: 100}
	records, err := v.Registry.ListByToken("")
	if err != nil {
		log.Error().Err(err).Msg("failed to list miners for network weights")
	} else {
		for _, rec := range records {
			base[rec.Token] = 100
		}
	}

	usage, err := v.Registry.ReceiptCountsByToken()
	if err != nil {
		log.Error().Err(err).Msg("failed to read receipt counts")
		usage = map[string]int{}
	}

	adjusted := weights.AdjustNetworkWeights(base, usage, 5)
	total := 0.0
	for _, w := range adjusted {
		total += w
	}
	if total <= 0 {
		return 1
	}
	return adjusted[token] / total
}

// scoreSnapshot fetches, validates and scores a miner's published dataset.
func (v *Validator) scoreSnapshot(ctx context.Context, t minerTarget, disc *protocol.Discovery) (float64, bool) {
	link := disc.SnapshotLink
	if link == "" {
		snapCtx, cancel := context.WithTimeout(ctx, v.IntervalConfig.SnapshotTimeout)
		info, err := v.Miners.Snapshot(snapCtx, t.Addr)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("miner_key", t.Key).Msg("miner failed snapshot export")
			return 0, false
		}
		link = info.SnapshotLink
	}

	fetchCtx, cancel := context.WithTimeout(ctx, v.IntervalConfig.SnapshotTimeout)
	raw, err := v.Fetcher.Fetch(fetchCtx, link)
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("failed to fetch dataset snapshot")
		return 0, false
	}

	valid, err := dataset.Validate(raw)
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("dataset snapshot is not valid JSON")
		return 0, false
	}
	if !valid {
		// Malformed, not necessarily fabricated: skip without blacklisting.
		log.Warn().Str("miner_key", t.Key).Msg("dataset failed structural validation, skipping miner")
		return 0, false
	}

	entries, err := dataset.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("failed to decode dataset")
		return 0, false
	}

	result, err := v.Engine.ScoreDataset(entries, t.Key, disc.Token, v.ValidatorConfig.SampleSize)
	if err != nil {
		log.Warn().Err(err).Str("miner_key", t.Key).Msg("dataset scoring failed")
		return 0, false
	}

	if v.Graph != nil && result.OverallScore > 0 {
		if err := v.Graph.MergeDataset(disc.Token, entries); err != nil {
			log.Error().Err(err).Str("miner_key", t.Key).Msg("failed to merge dataset into graph store")
		}
	}

	log.Debug().
		Str("miner_key", t.Key).
		Float64("tweet_score", result.TweetScore).
		Float64("user_score", result.UserScore).
		Float64("overall_score", result.OverallScore).
		Msg("dataset scored")
	return result.OverallScore, true
}

func splitAddr(addr string) (host, port string) {
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		return addr[:idx], addr[idx+1:]
	}
	return addr, ""
}

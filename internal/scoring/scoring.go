// Package scoring computes miner trust scores from validated datasets and
// live challenge answers, with freshness decay and fraud blacklisting.
package scoring

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/cache"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/twitter"
)

const (
	// DefaultSampleSize is the number of freshest entries scored per dataset.
	DefaultSampleSize = 3

	// tweetWeight/userWeight blend the two accuracy components; tweet
	// correctness dominates.
	tweetWeight = 0.7
	userWeight  = 0.3

	// freshnessHalfLifeDays gives exp(-days/7), half-life around 4.85 days.
	freshnessDecayDays = 7.0
)

// Result is the per-miner scoring outcome, each field in [0, 1].
type Result struct {
	TweetScore   float64 `json:"tweet_score"`
	UserScore    float64 `json:"user_score"`
	OverallScore float64 `json:"overall_score"`
}

// Engine validates sampled dataset entries against ground truth. Lookups go
// cache first, live second; a not-found answer from the live source is
// treated as fabricated data and blacklists the miner.
type Engine struct {
	registry registry.RegistryInterface
	tweets   cache.TweetCacheInterface
	users    cache.UserCacheInterface
	twitter  twitter.ServiceInterface
	now      func() time.Time
}

func NewEngine(
	reg registry.RegistryInterface,
	tweets cache.TweetCacheInterface,
	users cache.UserCacheInterface,
	tw twitter.ServiceInterface,
) *Engine {
	return &Engine{
		registry: reg,
		tweets:   tweets,
		users:    users,
		twitter:  tw,
		now:      time.Now,
	}
}

// Smooth is the diminishing-returns accuracy curve 1 - exp(-5*valid/total).
// Full accuracy saturates near (not at) 1.0; partial accuracy is rewarded
// super-linearly at low ratios.
func Smooth(valid, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return 1 - math.Exp(-5*valid/total)
}

// Freshness is the exponential age discount exp(-days/7).
func Freshness(age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / freshnessDecayDays)
}

// ScoreDataset scores a miner's dataset: the sampleSize freshest entries are
// verified tweet-by-tweet and user-by-user, accuracy is smoothed and blended
// 0.7/0.3. A fabricated reference zeroes the score and blacklists the miner.
func (e *Engine) ScoreDataset(entries []protocol.DatasetEntry, minerKey, token string, sampleSize int) (Result, error) {
	blacklisted, err := e.registry.IsBlacklisted(minerKey, token)
	if err != nil {
		return Result{}, err
	}
	if blacklisted {
		log.Debug().Str("miner_key", minerKey).Msg("miner is blacklisted, skipping scoring")
		return Result{}, nil
	}

	if len(entries) == 0 {
		return Result{}, nil
	}

	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}

	sampled := sampleFreshest(entries, sampleSize)

	var tweetValid, userValid float64
	total := float64(len(sampled))

	for _, entry := range sampled {
		tweetScore, fraud, err := e.checkTweet(entry.Tweet)
		if err != nil {
			return Result{}, err
		}
		if fraud {
			return Result{}, e.blacklist(minerKey, token, "tweet", entry.Tweet.ID)
		}
		tweetValid += tweetScore

		userScore, fraud, err := e.checkUser(entry.UserAccount)
		if err != nil {
			return Result{}, err
		}
		if fraud {
			return Result{}, e.blacklist(minerKey, token, "user", entry.UserAccount.UserID)
		}
		userValid += userScore
	}

	result := Result{
		TweetScore: Smooth(tweetValid, total),
		UserScore:  Smooth(userValid, total),
	}
	result.OverallScore = tweetWeight*result.TweetScore + userWeight*result.UserScore
	return result, nil
}

func (e *Engine) blacklist(minerKey, token, kind, id string) error {
	log.Warn().
		Str("miner_key", minerKey).
		Str("kind", kind).
		Str("id", id).
		Msg("referenced content not found in ground truth, blacklisting miner")
	return e.registry.SetBlacklisted(minerKey, token, true)
}

// sampleFreshest sorts entries by tweet timestamp descending and takes the
// first n. Deterministic freshest-first sampling, not random.
func sampleFreshest(entries []protocol.DatasetEntry, n int) []protocol.DatasetEntry {
	sorted := make([]protocol.DatasetEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, erri := time.Parse(time.RFC3339, sorted[i].Tweet.Timestamp)
		tj, errj := time.Parse(time.RFC3339, sorted[j].Tweet.Timestamp)
		if erri != nil || errj != nil {
			return erri == nil
		}
		return ti.After(tj)
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// checkTweet verifies one tweet sub-record against the cache-then-live
// lookup and returns its freshness-discounted score. fraud is true when the
// tweet id is structurally invalid or unknown to the ground-truth source.
func (e *Engine) checkTweet(t protocol.Tweet) (score float64, fraud bool, err error) {
	if t.ID == "" {
		return 0, true, nil
	}
	ts, parseErr := time.Parse(time.RFC3339, t.Timestamp)
	if parseErr != nil {
		return 0, true, nil
	}

	freshness := Freshness(e.now().Sub(ts))

	if _, cacheErr := e.tweets.Get(t.ID); cacheErr == nil {
		return freshness, false, nil
	} else if !errors.Is(cacheErr, cache.ErrNotFound) {
		return 0, false, cacheErr
	}

	details, lookupErr := e.twitter.GetTweetDetails(t.ID)
	if errors.Is(lookupErr, twitter.ErrNotFound) {
		return 0, true, nil
	}
	if lookupErr != nil {
		return 0, false, lookupErr
	}

	if storeErr := e.tweets.Store(cache.TweetFacts{TweetID: t.ID, TweetDate: details.CreatedAt}); storeErr != nil {
		return 0, false, storeErr
	}
	return freshness, false, nil
}

// checkUser verifies one user sub-record against the cache-then-live lookup.
func (e *Engine) checkUser(u protocol.UserAccount) (score float64, fraud bool, err error) {
	if u.UserID == "" {
		return 0, true, nil
	}

	if _, cacheErr := e.users.Get(u.UserID); cacheErr == nil {
		return 1.0, false, nil
	} else if !errors.Is(cacheErr, cache.ErrNotFound) {
		return 0, false, cacheErr
	}

	details, lookupErr := e.twitter.GetUserDetails(u.UserID)
	if errors.Is(lookupErr, twitter.ErrNotFound) {
		return 0, true, nil
	}
	if lookupErr != nil {
		return 0, false, lookupErr
	}

	storeErr := e.users.Store(cache.UserFacts{
		UserID:        u.UserID,
		FollowerCount: details.FollowersCount,
		Verified:      details.Verified,
	})
	if storeErr != nil {
		return 0, false, storeErr
	}
	return 1.0, false, nil
}

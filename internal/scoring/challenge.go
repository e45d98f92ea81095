package scoring

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/cache"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/internal/twitter"
)

// ChallengeChecks is the number of independent checks per challenge round.
const ChallengeChecks = 5

// TotalChallengeStep is the fixed increment applied to a miner's cumulative
// total-challenge counter per round.
const TotalChallengeStep = 2

// VerifyChallenge independently resolves a miner's claimed challenge output
// against cache-then-live ground truth and counts one failed challenge per
// mismatched field: tweet not found, user not found, date mismatch, verified
// mismatch, follower-count mismatch.
func (e *Engine) VerifyChallenge(out protocol.ChallengeOutput) (int, error) {
	failed := 0

	tweetFacts, err := e.resolveTweet(out.TweetID)
	if err != nil {
		return 0, err
	}
	if tweetFacts == nil {
		failed++
		log.Warn().Str("tweet_id", out.TweetID).Msg("tweet not found in ground truth")
	}

	userFacts, err := e.resolveUser(out.UserID)
	if err != nil {
		return 0, err
	}
	if userFacts == nil {
		failed++
		log.Warn().Str("user_id", out.UserID).Msg("user not found in ground truth")
	}

	if tweetFacts != nil {
		claimed, parseErr := time.Parse(time.RFC3339, out.TweetDate)
		if parseErr != nil || !claimed.Equal(tweetFacts.TweetDate) {
			failed++
			log.Warn().
				Str("expected", tweetFacts.TweetDate.Format(time.RFC3339)).
				Str("got", out.TweetDate).
				Msg("tweet date mismatch")
		}
	}

	if userFacts != nil {
		if out.Verified != userFacts.Verified {
			failed++
			log.Warn().
				Bool("expected", userFacts.Verified).
				Bool("got", out.Verified).
				Msg("verified status mismatch")
		}
		if out.FollowerCount != userFacts.FollowerCount {
			failed++
			log.Warn().
				Int64("expected", userFacts.FollowerCount).
				Int64("got", out.FollowerCount).
				Msg("follower count mismatch")
		}
	}

	return failed, nil
}

// resolveTweet returns cached or freshly fetched tweet facts, or nil when
// the ground-truth source does not know the id.
func (e *Engine) resolveTweet(tweetID string) (*cache.TweetFacts, error) {
	if tweetID == "" {
		return nil, nil
	}
	facts, err := e.tweets.Get(tweetID)
	if err == nil {
		return facts, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	details, err := e.twitter.GetTweetDetails(tweetID)
	if errors.Is(err, twitter.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fresh := cache.TweetFacts{TweetID: tweetID, TweetDate: details.CreatedAt}
	if err := e.tweets.Store(fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// resolveUser returns cached or freshly fetched user facts, or nil when the
// ground-truth source does not know the id.
func (e *Engine) resolveUser(userID string) (*cache.UserFacts, error) {
	if userID == "" {
		return nil, nil
	}
	facts, err := e.users.Get(userID)
	if err == nil {
		return facts, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, err
	}

	details, err := e.twitter.GetUserDetails(userID)
	if errors.Is(err, twitter.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fresh := cache.UserFacts{
		UserID:        userID,
		FollowerCount: details.FollowersCount,
		Verified:      details.Verified,
	}
	if err := e.users.Store(fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// ScoreChallenge maps a failed-challenge count to a score via the ladder
// used in challenge mode, then applies the receipt multiplier capped at 1.0.
func ScoreChallenge(failedChallenges int, receiptMultiplier float64) float64 {
	var base float64
	switch {
	case failedChallenges >= 5:
		return 0
	case failedChallenges == 4:
		return 0.1
	case failedChallenges == 3:
		return 0.2
	case failedChallenges == 2:
		return 0.4
	case failedChallenges == 1:
		return 0.7
	default:
		base = 1.0
	}

	if receiptMultiplier > 1.0 {
		receiptMultiplier = 1.0
	}
	return base * receiptMultiplier
}

package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengraph-labs/tokengraph/internal/cache"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/twitter"
)

type fakeRegistry struct {
	blacklisted map[string]bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{blacklisted: map[string]bool{}}
}

func (f *fakeRegistry) Upsert(registry.MinerRecord) error { return nil }
func (f *fakeRegistry) Get(string, string) (*registry.MinerRecord, error) {
	return nil, registry.ErrNotFound
}
func (f *fakeRegistry) ListByToken(string) ([]registry.MinerRecord, error) { return nil, nil }
func (f *fakeRegistry) UpdateRank(string, string, float64) error           { return nil }
func (f *fakeRegistry) IncrementChallenges(string, string, int, int) error { return nil }
func (f *fakeRegistry) SetTrusted(string, string, bool) error { return nil }
func (f *fakeRegistry) SetBlacklisted(key, token string, flag bool) error {
	f.blacklisted[key+":"+token] = flag
	return nil
}
func (f *fakeRegistry) IsBlacklisted(key, token string) (bool, error) {
	return f.blacklisted[key+":"+token], nil
}
func (f *fakeRegistry) Remove(string, string) error { return nil }
func (f *fakeRegistry) RemoveAll() error            { return nil }

type fakeTweetCache struct {
	data map[string]cache.TweetFacts
	gets int
}

func newFakeTweetCache() *fakeTweetCache {
	return &fakeTweetCache{data: map[string]cache.TweetFacts{}}
}

func (f *fakeTweetCache) Get(id string) (*cache.TweetFacts, error) {
	f.gets++
	if facts, ok := f.data[id]; ok {
		return &facts, nil
	}
	return nil, cache.ErrNotFound
}

func (f *fakeTweetCache) Store(facts cache.TweetFacts) error {
	f.data[facts.TweetID] = facts
	return nil
}

type fakeUserCache struct {
	data map[string]cache.UserFacts
	gets int
}

func newFakeUserCache() *fakeUserCache {
	return &fakeUserCache{data: map[string]cache.UserFacts{}}
}

func (f *fakeUserCache) Get(id string) (*cache.UserFacts, error) {
	f.gets++
	if facts, ok := f.data[id]; ok {
		return &facts, nil
	}
	return nil, cache.ErrNotFound
}

func (f *fakeUserCache) Store(facts cache.UserFacts) error {
	f.data[facts.UserID] = facts
	return nil
}

type fakeTwitter struct {
	tweets     map[string]twitter.TweetDetails
	users      map[string]twitter.UserDetails
	tweetCalls int
	userCalls  int
}

func newFakeTwitter() *fakeTwitter {
	return &fakeTwitter{
		tweets: map[string]twitter.TweetDetails{},
		users:  map[string]twitter.UserDetails{},
	}
}

func (f *fakeTwitter) GetTweetDetails(id string) (*twitter.TweetDetails, error) {
	f.tweetCalls++
	if d, ok := f.tweets[id]; ok {
		return &d, nil
	}
	return nil, twitter.ErrNotFound
}

func (f *fakeTwitter) GetUserDetails(id string) (*twitter.UserDetails, error) {
	f.userCalls++
	if d, ok := f.users[id]; ok {
		return &d, nil
	}
	return nil, twitter.ErrNotFound
}

type engineFixture struct {
	engine   *Engine
	registry *fakeRegistry
	tweets   *fakeTweetCache
	users    *fakeUserCache
	twitter  *fakeTwitter
	now      time.Time
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		registry: newFakeRegistry(),
		tweets:   newFakeTweetCache(),
		users:    newFakeUserCache(),
		twitter:  newFakeTwitter(),
		now:      time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(f.registry, f.tweets, f.users, f.twitter)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *engineFixture) entry(tweetID, userID string, ts time.Time) protocol.DatasetEntry {
	return protocol.DatasetEntry{
		Token:       "PEPE",
		Tweet:       protocol.Tweet{ID: tweetID, Timestamp: ts.Format(time.RFC3339)},
		UserAccount: protocol.UserAccount{UserID: userID},
	}
}

func (f *engineFixture) know(tweetID, userID string, ts time.Time) {
	f.twitter.tweets[tweetID] = twitter.TweetDetails{ID: tweetID, CreatedAt: ts}
	f.twitter.users[userID] = twitter.UserDetails{ID: userID, FollowersCount: 100, Verified: true}
}

func TestSmooth(t *testing.T) {
	assert.Equal(t, 0.0, Smooth(0, 3))
	assert.Equal(t, 0.0, Smooth(1, 0))
	assert.InDelta(t, 1-math.Exp(-5), Smooth(3, 3), 1e-9)
	assert.Less(t, Smooth(1, 3), Smooth(2, 3))
	assert.Less(t, Smooth(3, 3), 1.0)
}

func TestFreshness(t *testing.T) {
	assert.InDelta(t, 1.0, Freshness(0), 1e-9)
	assert.InDelta(t, math.Exp(-1), Freshness(7*24*time.Hour), 1e-9)
	assert.Greater(t, Freshness(24*time.Hour), Freshness(48*time.Hour))
	assert.InDelta(t, 1.0, Freshness(-time.Hour), 1e-9, "future timestamps carry no penalty")
}

func TestScoreDatasetAllValidAndFresh(t *testing.T) {
	f := newEngineFixture()

	var entries []protocol.DatasetEntry
	for _, ids := range [][2]string{{"t1", "u1"}, {"t2", "u2"}, {"t3", "u3"}} {
		f.know(ids[0], ids[1], f.now)
		entries = append(entries, f.entry(ids[0], ids[1], f.now))
	}

	result, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)

	want := 1 - math.Exp(-5)
	assert.InDelta(t, want, result.TweetScore, 1e-9)
	assert.InDelta(t, want, result.UserScore, 1e-9)
	assert.InDelta(t, want, result.OverallScore, 1e-9)
	assert.Greater(t, result.OverallScore, 0.0)
	assert.Less(t, result.OverallScore, 1.0)

	// Lookups are memoized for the next round.
	assert.Len(t, f.tweets.data, 3)
	assert.Len(t, f.users.data, 3)
}

func TestScoreDatasetFreshnessDiscountsTweets(t *testing.T) {
	f := newEngineFixture()

	old := f.now.Add(-14 * 24 * time.Hour)
	f.know("t1", "u1", old)
	entries := []protocol.DatasetEntry{f.entry("t1", "u1", old)}

	result, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)

	wantTweet := Smooth(math.Exp(-2), 1)
	assert.InDelta(t, wantTweet, result.TweetScore, 1e-9)
	assert.InDelta(t, Smooth(1, 1), result.UserScore, 1e-9)
	assert.Less(t, result.TweetScore, result.UserScore)
}

func TestScoreDatasetUsesCacheBeforeLiveLookup(t *testing.T) {
	f := newEngineFixture()

	f.tweets.data["t1"] = cache.TweetFacts{TweetID: "t1", TweetDate: f.now}
	f.users.data["u1"] = cache.UserFacts{UserID: "u1", FollowerCount: 100}
	entries := []protocol.DatasetEntry{f.entry("t1", "u1", f.now)}

	_, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)

	assert.Zero(t, f.twitter.tweetCalls)
	assert.Zero(t, f.twitter.userCalls)
}

func TestScoreDatasetFabricatedTweetBlacklists(t *testing.T) {
	f := newEngineFixture()

	// User exists, tweet does not: the tweet reference is fabricated.
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1"}
	entries := []protocol.DatasetEntry{f.entry("t-fake", "u1", f.now)}

	result, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)
	assert.Zero(t, result.OverallScore)
	assert.True(t, f.registry.blacklisted["miner-a:PEPE"])
}

func TestScoreDatasetFabricatedUserBlacklists(t *testing.T) {
	f := newEngineFixture()

	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: f.now}
	entries := []protocol.DatasetEntry{f.entry("t1", "u-fake", f.now)}

	result, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)
	assert.Zero(t, result.OverallScore)
	assert.True(t, f.registry.blacklisted["miner-a:PEPE"])
}

func TestScoreDatasetBlacklistShortCircuits(t *testing.T) {
	f := newEngineFixture()

	f.registry.blacklisted["miner-a:PEPE"] = true
	f.know("t1", "u1", f.now)
	entries := []protocol.DatasetEntry{f.entry("t1", "u1", f.now)}

	result, err := f.engine.ScoreDataset(entries, "miner-a", "PEPE", 3)
	require.NoError(t, err)
	assert.Zero(t, result.OverallScore)
	assert.Zero(t, f.tweets.gets, "blacklisted miners are never verified")
	assert.Zero(t, f.twitter.tweetCalls)
}

func TestScoreDatasetEmpty(t *testing.T) {
	f := newEngineFixture()

	result, err := f.engine.ScoreDataset(nil, "miner-a", "PEPE", 3)
	require.NoError(t, err)
	assert.Zero(t, result.OverallScore)
}

func TestSampleFreshestPicksNewest(t *testing.T) {
	f := newEngineFixture()

	var entries []protocol.DatasetEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, f.entry("t", "u", f.now.Add(-time.Duration(i)*24*time.Hour)))
	}

	sampled := sampleFreshest(entries, 3)
	require.Len(t, sampled, 3)
	assert.Equal(t, entries[0].Tweet.Timestamp, sampled[0].Tweet.Timestamp)
	assert.Equal(t, entries[2].Tweet.Timestamp, sampled[2].Tweet.Timestamp)
}

func TestSampleFreshestSmallerThanSample(t *testing.T) {
	f := newEngineFixture()
	entries := []protocol.DatasetEntry{f.entry("t1", "u1", f.now)}
	assert.Len(t, sampleFreshest(entries, 3), 1)
}

func TestScoreChallengeLadder(t *testing.T) {
	cases := []struct {
		failed int
		want   float64
	}{
		{0, 1.0},
		{1, 0.7},
		{2, 0.4},
		{3, 0.2},
		{4, 0.1},
		{5, 0},
		{9, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ScoreChallenge(tc.failed, 1.0), "failed=%d", tc.failed)
	}
}

func TestScoreChallengeReceiptMultiplier(t *testing.T) {
	assert.Equal(t, 0.5, ScoreChallenge(0, 0.5))
	assert.Equal(t, 1.0, ScoreChallenge(0, 2.0), "multiplier is capped at 1.0")
	assert.Equal(t, 0.7, ScoreChallenge(1, 0.5), "multiplier applies only to a clean round")
}

func TestVerifyChallengeAllCorrect(t *testing.T) {
	f := newEngineFixture()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: created}
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1", FollowersCount: 100, Verified: true}

	failed, err := f.engine.VerifyChallenge(protocol.ChallengeOutput{
		TweetID:       "t1",
		UserID:        "u1",
		TweetDate:     created.Format(time.RFC3339),
		FollowerCount: 100,
		Verified:      true,
	})
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestVerifyChallengeCountsMismatches(t *testing.T) {
	f := newEngineFixture()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: created}
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1", FollowersCount: 100, Verified: true}

	failed, err := f.engine.VerifyChallenge(protocol.ChallengeOutput{
		TweetID:       "t1",
		UserID:        "u1",
		TweetDate:     created.Add(time.Hour).Format(time.RFC3339),
		FollowerCount: 99,
		Verified:      false,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, failed)
}

func TestVerifyChallengeUnknownReferences(t *testing.T) {
	f := newEngineFixture()

	failed, err := f.engine.VerifyChallenge(protocol.ChallengeOutput{
		TweetID:   "t-fake",
		UserID:    "u-fake",
		TweetDate: "2024-05-01T12:00:00Z",
	})
	require.NoError(t, err)
	// Dependent field checks are skipped when the reference itself is unknown.
	assert.Equal(t, 2, failed)
}

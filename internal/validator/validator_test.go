package validator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengraph-labs/tokengraph/internal/cache"
	"github.com/tokengraph-labs/tokengraph/internal/chain"
	"github.com/tokengraph-labs/tokengraph/internal/config"
	"github.com/tokengraph-labs/tokengraph/internal/graph"
	"github.com/tokengraph-labs/tokengraph/internal/protocol"
	"github.com/tokengraph-labs/tokengraph/internal/registry"
	"github.com/tokengraph-labs/tokengraph/internal/scoring"
	"github.com/tokengraph-labs/tokengraph/internal/storage"
	"github.com/tokengraph-labs/tokengraph/internal/twitter"
	"github.com/tokengraph-labs/tokengraph/internal/weights"
)

const (
	testValidatorKey = "validator-key"
	testMinerKey     = "miner-a"
)

type fakeChain struct {
	modules   map[string]chain.ModuleInfo
	addresses map[int]string
	votes     [][]int
	voteUIDs  [][]int
}

func (f *fakeChain) ResolveModules(int) (map[string]chain.ModuleInfo, error) {
	return f.modules, nil
}

func (f *fakeChain) ResolveAddresses(int) (map[int]string, error) {
	return f.addresses, nil
}

func (f *fakeChain) Vote(key string, uids []int, values []int, netuid int) error {
	f.voteUIDs = append(f.voteUIDs, uids)
	f.votes = append(f.votes, values)
	return nil
}

type fakeMiners struct {
	discovery       *protocol.Discovery
	discoveryByAddr map[string]*protocol.Discovery
	discoveryErr    error
	challenge       *protocol.ChallengeResponse
	challengeErr    error
	snapshot        *protocol.SnapshotInfo
	snapshotErr     error
}

func (f *fakeMiners) Discovery(_ context.Context, addr string, _ protocol.DiscoveryRequest) (*protocol.Discovery, error) {
	if d, ok := f.discoveryByAddr[addr]; ok {
		return d, nil
	}
	return f.discovery, f.discoveryErr
}

func (f *fakeMiners) Challenge(context.Context, string, protocol.ChallengeRequest) (*protocol.ChallengeResponse, error) {
	return f.challenge, f.challengeErr
}

func (f *fakeMiners) Snapshot(context.Context, string) (*protocol.SnapshotInfo, error) {
	return f.snapshot, f.snapshotErr
}

type fakeFetcher struct {
	data map[string][]byte
}

func (f *fakeFetcher) Fetch(_ context.Context, link string) ([]byte, error) {
	if data, ok := f.data[link]; ok {
		return data, nil
	}
	return nil, errors.New("unknown link")
}

type fakeTwitter struct {
	tweets map[string]twitter.TweetDetails
	users  map[string]twitter.UserDetails
}

func (f *fakeTwitter) GetTweetDetails(id string) (*twitter.TweetDetails, error) {
	if d, ok := f.tweets[id]; ok {
		return &d, nil
	}
	return nil, twitter.ErrNotFound
}

func (f *fakeTwitter) GetUserDetails(id string) (*twitter.UserDetails, error) {
	if d, ok := f.users[id]; ok {
		return &d, nil
	}
	return nil, twitter.ErrNotFound
}

type fixture struct {
	validator *Validator
	chain     *fakeChain
	miners    *fakeMiners
	fetcher   *fakeFetcher
	twitter   *fakeTwitter
	registry  *registry.Registry
	graph     *graph.MemoryStore
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "validator-db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	chainClient := &fakeChain{
		modules: map[string]chain.ModuleInfo{
			testValidatorKey: {UID: 0, Key: testValidatorKey},
			testMinerKey:     {UID: 1, Key: testMinerKey, Emission: 0.5},
		},
		addresses: map[int]string{
			0: "10.0.0.1:9900",
			1: "10.0.0.2:9962",
		},
	}
	miners := &fakeMiners{
		discovery: &protocol.Discovery{
			Token:        "PEPE",
			Version:      protocol.Version,
			GraphDB:      "memgraph",
			SnapshotLink: "QmHash",
		},
	}
	fetcher := &fakeFetcher{data: map[string][]byte{}}
	tw := &fakeTwitter{
		tweets: map[string]twitter.TweetDetails{},
		users:  map[string]twitter.UserDetails{},
	}

	reg := registry.NewRegistry(db)
	engine := scoring.NewEngine(reg, cache.NewTweetCache(db), cache.NewUserCache(db), tw)

	cfg := &config.ValidatorEnvConfig{
		Environment:       "dev",
		Token:             "PEPE",
		ProtocolMode:      mode,
		MaxAllowedWeights: 10,
		SampleSize:        3,
	}
	cfg.Netuid = 20

	allocator := weights.NewAllocator(
		weights.NewStorage(filepath.Join(t.TempDir(), "weights.json")),
		chainClient,
		testValidatorKey,
		cfg.Netuid,
	)
	store := graph.NewMemoryStore()

	v := NewValidator(cfg, chainClient, miners, reg, engine, allocator, fetcher, store, testValidatorKey)

	return &fixture{
		validator: v,
		chain:     chainClient,
		miners:    miners,
		fetcher:   fetcher,
		twitter:   tw,
		registry:  reg,
		graph:     store,
	}
}

func (f *fixture) publishDataset(t *testing.T, entries []protocol.DatasetEntry) {
	t.Helper()
	raw, err := sonic.Marshal(entries)
	require.NoError(t, err)
	f.fetcher.data["QmHash"] = raw
}

func datasetEntry(tweetID, userID string, ts time.Time) protocol.DatasetEntry {
	return protocol.DatasetEntry{
		Token: "PEPE",
		Tweet: protocol.Tweet{
			ID:        tweetID,
			URL:       "https://x.com/someone/status/" + tweetID,
			Text:      "$PEPE",
			Images:    []string{},
			Timestamp: ts.Format(time.RFC3339),
		},
		UserAccount: protocol.UserAccount{
			Username:      "someone",
			UserID:        userID,
			FollowerCount: 100,
			AccountAge:    "2019-01-01T00:00:00Z",
		},
		Region: protocol.Region{Name: "Berlin"},
		Edges: []protocol.Edge{
			{Type: protocol.EdgePosted, From: userID, To: tweetID, Attributes: map[string]any{}},
		},
	}
}

func TestValidateStepSnapshotMode(t *testing.T) {
	f := newFixture(t, ModeSnapshot)

	now := time.Now().UTC().Truncate(time.Second)
	var entries []protocol.DatasetEntry
	for _, ids := range [][2]string{{"t1", "u1"}, {"t2", "u2"}, {"t3", "u3"}} {
		f.twitter.tweets[ids[0]] = twitter.TweetDetails{ID: ids[0], CreatedAt: now}
		f.twitter.users[ids[1]] = twitter.UserDetails{ID: ids[1], FollowersCount: 100}
		entries = append(entries, datasetEntry(ids[0], ids[1], now))
	}
	f.publishDataset(t, entries)

	require.NoError(t, f.validator.validateStep(context.Background()))

	// The sole responsive miner takes the full weight range.
	require.Len(t, f.chain.votes, 1)
	require.Equal(t, []int{1}, f.chain.voteUIDs[0])
	assert.InDelta(t, 1000, f.chain.votes[0][0], 1)

	rec, err := f.registry.Get(testMinerKey, "PEPE")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.UID)
	assert.Equal(t, 0.5, rec.Rank)
	assert.Equal(t, "memgraph", rec.GraphDB)

	// Validated entries land in the graph store.
	assert.Equal(t, 3, f.graph.Counts().Tweets)
}

func TestValidateStepNotRegistered(t *testing.T) {
	f := newFixture(t, ModeSnapshot)
	delete(f.chain.modules, testValidatorKey)

	err := f.validator.validateStep(context.Background())
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.Empty(t, f.chain.votes)
}

func TestValidateStepNoResponsiveMiners(t *testing.T) {
	f := newFixture(t, ModeSnapshot)
	f.miners.discoveryErr = errors.New("connection refused")

	require.NoError(t, f.validator.validateStep(context.Background()))
	assert.Empty(t, f.chain.votes, "no vote without a single valid answer")
}

func TestValidateStepVersionMismatch(t *testing.T) {
	f := newFixture(t, ModeSnapshot)
	f.miners.discovery.Version = 0.9

	require.NoError(t, f.validator.validateStep(context.Background()))
	assert.Empty(t, f.chain.votes)
}

func TestValidateStepInvalidDatasetScoresNothing(t *testing.T) {
	f := newFixture(t, ModeSnapshot)
	f.fetcher.data["QmHash"] = []byte(`[{"token":"PEPE"}]`)

	require.NoError(t, f.validator.validateStep(context.Background()))
	assert.Empty(t, f.chain.votes)

	// A malformed dataset is skipped, never treated as fraud.
	blacklisted, err := f.registry.IsBlacklisted(testMinerKey, "PEPE")
	require.NoError(t, err)
	assert.False(t, blacklisted)
}

func TestValidateStepFabricatedDatasetBlacklists(t *testing.T) {
	f := newFixture(t, ModeSnapshot)

	now := time.Now().UTC().Truncate(time.Second)
	f.publishDataset(t, []protocol.DatasetEntry{datasetEntry("t-fake", "u-fake", now)})

	require.NoError(t, f.validator.validateStep(context.Background()))

	blacklisted, err := f.registry.IsBlacklisted(testMinerKey, "PEPE")
	require.NoError(t, err)
	assert.True(t, blacklisted)

	// Blacklisted means a zero-weight row, not a missing one.
	require.Len(t, f.chain.votes, 1)
	assert.Equal(t, []int{0}, f.chain.votes[0])
}

func TestValidateStepChallengeMode(t *testing.T) {
	f := newFixture(t, ModeChallenge)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: created}
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1", FollowersCount: 100, Verified: true}
	f.miners.challenge = &protocol.ChallengeResponse{
		Token: "PEPE",
		Output: protocol.ChallengeOutput{
			TweetID:       "t1",
			UserID:        "u1",
			TweetDate:     created.Format(time.RFC3339),
			FollowerCount: 100,
			Verified:      true,
		},
	}

	require.NoError(t, f.validator.validateStep(context.Background()))

	require.Len(t, f.chain.votes, 1)
	assert.InDelta(t, 1000, f.chain.votes[0][0], 1)

	rec, err := f.registry.Get(testMinerKey, "PEPE")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.FailedChallenges)
	assert.Equal(t, scoring.TotalChallengeStep, rec.TotalChallenges)
	assert.True(t, rec.Trusted, "a clean round marks the miner trusted")
}

func TestValidateStepChallengeModeWrongClaims(t *testing.T) {
	f := newFixture(t, ModeChallenge)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: created}
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1", FollowersCount: 100, Verified: true}
	f.miners.challenge = &protocol.ChallengeResponse{
		Token: "PEPE",
		Output: protocol.ChallengeOutput{
			TweetID:       "t1",
			UserID:        "u1",
			TweetDate:     created.Add(time.Hour).Format(time.RFC3339),
			FollowerCount: 99,
			Verified:      false,
		},
	}

	require.NoError(t, f.validator.validateStep(context.Background()))

	rec, err := f.registry.Get(testMinerKey, "PEPE")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.FailedChallenges)
	assert.False(t, rec.Trusted, "missed checks clear the trusted flag")
}

func TestValidateStepChallengeModeOrganicUsageWeighting(t *testing.T) {
	f := newFixture(t, ModeChallenge)

	// Second miner on another token, answering the same challenge cleanly.
	f.chain.modules["miner-b"] = chain.ModuleInfo{UID: 2, Key: "miner-b", Emission: 0.5}
	f.chain.addresses[2] = "10.0.0.3:9962"
	f.miners.discoveryByAddr = map[string]*protocol.Discovery{
		"10.0.0.3:9962": {Token: "DOGE", Version: protocol.Version, GraphDB: "memgraph"},
	}

	// Both tokens are known before the iteration starts.
	require.NoError(t, f.registry.Upsert(registry.MinerRecord{UID: 1, MinerKey: testMinerKey, Token: "PEPE"}))
	require.NoError(t, f.registry.Upsert(registry.MinerRecord{UID: 2, MinerKey: "miner-b", Token: "DOGE"}))

	// Organic queries favour DOGE three to one. The query layer reported
	// these through the gateway, so they carry unrelated miner keys.
	now := time.Now().UTC()
	require.NoError(t, f.registry.StoreReceipt(registry.Receipt{RequestID: "r1", MinerKey: "query-x", Token: "PEPE", Timestamp: now}))
	for _, id := range []string{"r2", "r3", "r4"} {
		require.NoError(t, f.registry.StoreReceipt(registry.Receipt{RequestID: id, MinerKey: "query-y", Token: "DOGE", Timestamp: now}))
	}

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.twitter.tweets["t1"] = twitter.TweetDetails{ID: "t1", CreatedAt: created}
	f.twitter.users["u1"] = twitter.UserDetails{ID: "u1", FollowersCount: 100, Verified: true}
	f.miners.challenge = &protocol.ChallengeResponse{
		Output: protocol.ChallengeOutput{
			TweetID:       "t1",
			UserID:        "u1",
			TweetDate:     created.Format(time.RFC3339),
			FollowerCount: 100,
			Verified:      true,
		},
	}

	require.NoError(t, f.validator.validateStep(context.Background()))

	require.Len(t, f.chain.votes, 1)
	byUID := map[int]int{}
	for i, uid := range f.chain.voteUIDs[0] {
		byUID[uid] = f.chain.votes[0][i]
	}
	require.Len(t, byUID, 2)

	// Equal base weights, usage 1:3, minimum threshold 100/5: the PEPE share
	// is floored at 20 against DOGE's 37.5, so the clean rounds split
	// 20/57.5 to 37.5/57.5 of the weight range.
	assert.InDelta(t, 347, byUID[1], 1)
	assert.InDelta(t, 652, byUID[2], 1)
	assert.Greater(t, byUID[2], byUID[1], "heavily queried tokens earn a larger share")
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, ModeSnapshot)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- f.validator.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}

func TestRunFatalWhenNotRegistered(t *testing.T) {
	f := newFixture(t, ModeSnapshot)
	delete(f.chain.modules, testValidatorKey)

	err := f.validator.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestSplitAddr(t *testing.T) {
	host, port := splitAddr("10.0.0.2:9962")
	assert.Equal(t, "10.0.0.2", host)
	assert.Equal(t, "9962", port)

	host, port = splitAddr("nohost")
	assert.Equal(t, "nohost", host)
	assert.Empty(t, port)
}

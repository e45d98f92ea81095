package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokengraph-labs/tokengraph/internal/protocol"
)

func entry(token, tweetID, userID, region string) protocol.DatasetEntry {
	return protocol.DatasetEntry{
		Token:       token,
		Tweet:       protocol.Tweet{ID: tweetID},
		UserAccount: protocol.UserAccount{UserID: userID},
		Region:      protocol.Region{Name: region},
		Edges: []protocol.Edge{
			{Type: protocol.EdgePosted, From: userID, To: tweetID, Attributes: map[string]any{}},
		},
	}
}

func TestMergeDatasetCounts(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.MergeDataset("PEPE", []protocol.DatasetEntry{
		entry("PEPE", "t1", "u1", "Berlin"),
		entry("PEPE", "t2", "u2", "Lisbon"),
	}))

	counts := s.Counts()
	assert.Equal(t, 1, counts.Tokens)
	assert.Equal(t, 2, counts.Tweets)
	assert.Equal(t, 2, counts.Users)
	assert.Equal(t, 2, counts.Regions)
	assert.Equal(t, 2, counts.Edges)
}

func TestMergeDatasetUpserts(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.MergeDataset("PEPE", []protocol.DatasetEntry{entry("PEPE", "t1", "u1", "Berlin")}))
	require.NoError(t, s.MergeDataset("PEPE", []protocol.DatasetEntry{entry("PEPE", "t1", "u1", "Berlin")}))

	counts := s.Counts()
	assert.Equal(t, 1, counts.Tweets)
	assert.Equal(t, 1, counts.Users)
	assert.Equal(t, 1, counts.Edges)
}

func TestMergeDatasetSkipsUnknownRegion(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.MergeDataset("PEPE", []protocol.DatasetEntry{entry("PEPE", "t1", "u1", "Unknown")}))

	assert.Zero(t, s.Counts().Regions)
}

func TestMergeDatasetMultipleTokens(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.MergeDataset("PEPE", []protocol.DatasetEntry{entry("PEPE", "t1", "u1", "Berlin")}))
	require.NoError(t, s.MergeDataset("DOGE", []protocol.DatasetEntry{entry("DOGE", "t2", "u2", "Berlin")}))

	counts := s.Counts()
	assert.Equal(t, 2, counts.Tokens)
	assert.Equal(t, 1, counts.Regions, "regions are shared nodes")
}

// Package graph defines the graph-store contract the validator merges
// validated datasets into, with an in-memory implementation. The real graph
// engine is an external collaborator behind the same interface.
package graph

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/internal/protocol"
)

// StoreInterface merges validated dataset entries into a graph.
type StoreInterface interface {
	MergeDataset(token string, entries []protocol.DatasetEntry) error
}

// NodeCounts summarizes stored nodes per label.
type NodeCounts struct {
	Tokens  int `json:"tokens"`
	Tweets  int `json:"tweets"`
	Users   int `json:"users"`
	Regions int `json:"regions"`
	Edges   int `json:"edges"`
}

// MemoryStore is a map-backed graph store with upsert semantics.
type MemoryStore struct {
	mu      sync.RWMutex
	tokens  map[string]struct{}
	tweets  map[string]protocol.Tweet
	users   map[string]protocol.UserAccount
	regions map[string]struct{}
	edges   map[string]protocol.Edge
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]struct{}),
		tweets:  make(map[string]protocol.Tweet),
		users:   make(map[string]protocol.UserAccount),
		regions: make(map[string]struct{}),
		edges:   make(map[string]protocol.Edge),
	}
}

// MergeDataset upserts every entry's nodes and edges. Regions with the
// sentinel name "Unknown" are not materialized.
func (s *MemoryStore) MergeDataset(token string, entries []protocol.DatasetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		s.tokens[entry.Token] = struct{}{}
		s.tweets[entry.Tweet.ID] = entry.Tweet
		s.users[entry.UserAccount.UserID] = entry.UserAccount
		if entry.Region.Name != "" && entry.Region.Name != "Unknown" {
			s.regions[entry.Region.Name] = struct{}{}
		}
		for _, edge := range entry.Edges {
			s.edges[edge.Type+":"+edge.From+":"+edge.To] = edge
		}
	}

	log.Debug().
		Str("token", token).
		Int("entries", len(entries)).
		Msg("merged dataset into graph store")
	return nil
}

// Counts reports the stored node and edge totals.
func (s *MemoryStore) Counts() NodeCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return NodeCounts{
		Tokens:  len(s.tokens),
		Tweets:  len(s.tweets),
		Users:   len(s.users),
		Regions: len(s.regions),
		Edges:   len(s.edges),
	}
}

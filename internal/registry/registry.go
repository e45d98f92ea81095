// Package registry is the persistent store of discovered miners, keyed by
// (miner key, token), plus the receipt log used for leaderboard projections.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tokengraph-labs/tokengraph/internal/storage"
)

const (
	minerKeyPrefix   = "miner:"
	receiptKeyPrefix = "receipt:"
)

// ErrNotFound is returned when no record exists for a (miner key, token) pair.
var ErrNotFound = storage.ErrNotFound

// MinerRecord is one row per (miner key, token).
type MinerRecord struct {
	UID              int       `json:"uid"`
	MinerKey         string    `json:"miner_key"`
	Address          string    `json:"address"`
	Port             string    `json:"port"`
	Token            string    `json:"token"`
	LastSeen         time.Time `json:"last_seen"`
	Rank             float64   `json:"rank"`
	FailedChallenges int       `json:"failed_challenges"`
	TotalChallenges  int       `json:"total_challenges"`
	Trusted          bool      `json:"trusted"`
	Blacklisted      bool      `json:"blacklisted"`
	Version          float64   `json:"version"`
	GraphDB          string    `json:"graph_db"`
	SnapshotLink     string    `json:"snapshot_link"`
}

// RegistryInterface abstracts the miner registry for consumers.
type RegistryInterface interface {
	Upsert(rec MinerRecord) error
	Get(minerKey, token string) (*MinerRecord, error)
	ListByToken(token string) ([]MinerRecord, error)
	UpdateRank(minerKey, token string, rank float64) error
	IncrementChallenges(minerKey, token string, failedDelta, totalDelta int) error
	SetTrusted(minerKey, token string, flag bool) error
	SetBlacklisted(minerKey, token string, flag bool) error
	IsBlacklisted(minerKey, token string) (bool, error)
	Remove(minerKey, token string) error
	RemoveAll() error
}

// Registry implements the miner registry over LevelDB.
type Registry struct {
	db *storage.LevelDB
}

func NewRegistry(db *storage.LevelDB) *Registry {
	return &Registry{db: db}
}

func minerKey(key, token string) []byte {
	return []byte(minerKeyPrefix + key + ":" + token)
}

// Upsert inserts or refreshes a record keyed by (miner key, token). Challenge
// counters, rank and the blacklist flag survive updates; the last-seen
// timestamp is always refreshed.
func (r *Registry) Upsert(rec MinerRecord) error {
	existing, err := r.Get(rec.MinerKey, rec.Token)
	if err != nil && err != ErrNotFound {
		return fmt.Errorf("read existing record: %w", err)
	}
	if existing != nil {
		rec.Rank = existing.Rank
		rec.FailedChallenges = existing.FailedChallenges
		rec.TotalChallenges = existing.TotalChallenges
		rec.Trusted = existing.Trusted
		rec.Blacklisted = existing.Blacklisted
	}
	rec.LastSeen = time.Now().UTC()
	return r.put(rec)
}

func (r *Registry) put(rec MinerRecord) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal miner record: %w", err)
	}
	return r.db.Put(minerKey(rec.MinerKey, rec.Token), data)
}

// Get retrieves a record by (miner key, token), or ErrNotFound.
func (r *Registry) Get(key, token string) (*MinerRecord, error) {
	data, err := r.db.Get(minerKey(key, token))
	if err != nil {
		return nil, err
	}
	var rec MinerRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal miner record: %w", err)
	}
	return &rec, nil
}

// ListByToken returns records for the token (all tokens when empty), ordered
// by (last seen, rank) ascending.
func (r *Registry) ListByToken(token string) ([]MinerRecord, error) {
	iter := r.db.NewIterator([]byte(minerKeyPrefix))
	defer iter.Release()

	var records []MinerRecord
	for iter.Next() {
		var rec MinerRecord
		if err := sonic.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal miner record: %w", err)
		}
		if token != "" && rec.Token != token {
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].LastSeen.Equal(records[j].LastSeen) {
			return records[i].LastSeen.Before(records[j].LastSeen)
		}
		return records[i].Rank < records[j].Rank
	})
	return records, nil
}

func (r *Registry) mutate(key, token string, fn func(*MinerRecord)) error {
	rec, err := r.Get(key, token)
	if err != nil {
		return err
	}
	fn(rec)
	return r.put(*rec)
}

// UpdateRank refreshes the externally derived rank; the registry never
// computes rank from history.
func (r *Registry) UpdateRank(key, token string, rank float64) error {
	return r.mutate(key, token, func(rec *MinerRecord) {
		rec.Rank = rank
	})
}

// IncrementChallenges bumps the cumulative failed/total challenge counters.
func (r *Registry) IncrementChallenges(key, token string, failedDelta, totalDelta int) error {
	return r.mutate(key, token, func(rec *MinerRecord) {
		rec.FailedChallenges += failedDelta
		rec.TotalChallenges += totalDelta
	})
}

// SetTrusted flips the trusted flag for a miner.
func (r *Registry) SetTrusted(key, token string, flag bool) error {
	return r.mutate(key, token, func(rec *MinerRecord) {
		rec.Trusted = flag
	})
}

// SetBlacklisted flips the blacklist flag for a miner.
func (r *Registry) SetBlacklisted(key, token string, flag bool) error {
	return r.mutate(key, token, func(rec *MinerRecord) {
		rec.Blacklisted = flag
	})
}

// IsBlacklisted reports the blacklist flag; unknown miners are not blacklisted.
func (r *Registry) IsBlacklisted(key, token string) (bool, error) {
	rec, err := r.Get(key, token)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Blacklisted, nil
}

// Remove deletes a single record. Administrative use only.
func (r *Registry) Remove(key, token string) error {
	return r.db.Delete(minerKey(key, token))
}

// RemoveAll deletes every miner record. Administrative reset.
func (r *Registry) RemoveAll() error {
	iter := r.db.NewIterator([]byte(minerKeyPrefix))
	defer iter.Release()
	for iter.Next() {
		k := make([]byte, len(iter.Key()))
		copy(k, iter.Key())
		if err := r.db.Delete(k); err != nil {
			return err
		}
	}
	return iter.Error()
}

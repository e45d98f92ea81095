package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
)

// Receipt records one served query per (miner key, request id).
type Receipt struct {
	RequestID string    `json:"request_id"`
	MinerKey  string    `json:"miner_key"`
	Token     string    `json:"token"`
	QueryHash string    `json:"query_hash"`
	Accepted  bool      `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// LeaderboardEntry is a read-side projection joining miner records with
// receipt counts. Not authoritative state.
type LeaderboardEntry struct {
	Token         string    `json:"token"`
	MinerKey      string    `json:"miner_key"`
	LastSeen      time.Time `json:"last_seen"`
	Rank          float64   `json:"rank"`
	TotalReceipts int       `json:"total_receipts"`
}

func receiptKey(token, minerKey, requestID string) []byte {
	return []byte(receiptKeyPrefix + token + ":" + minerKey + ":" + requestID)
}

// StoreReceipt records a served query for a miner.
func (r *Registry) StoreReceipt(rc Receipt) error {
	data, err := sonic.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return r.db.Put(receiptKey(rc.Token, rc.MinerKey, rc.RequestID), data)
}

// AcceptReceipt marks a stored receipt as the accepted answer for its request.
func (r *Registry) AcceptReceipt(token, minerKey, requestID string) error {
	data, err := r.db.Get(receiptKey(token, minerKey, requestID))
	if err != nil {
		return err
	}
	var rc Receipt
	if err := sonic.Unmarshal(data, &rc); err != nil {
		return fmt.Errorf("unmarshal receipt: %w", err)
	}
	rc.Accepted = true
	updated, err := sonic.Marshal(rc)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	return r.db.Put(receiptKey(token, minerKey, requestID), updated)
}

// ReceiptsByMiner returns all receipts for a miner key, newest first.
func (r *Registry) ReceiptsByMiner(minerKey string) ([]Receipt, error) {
	iter := r.db.NewIterator([]byte(receiptKeyPrefix))
	defer iter.Release()

	var receipts []Receipt
	for iter.Next() {
		var rc Receipt
		if err := sonic.Unmarshal(iter.Value(), &rc); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		if rc.MinerKey == minerKey {
			receipts = append(receipts, rc)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].Timestamp.After(receipts[j].Timestamp)
	})
	return receipts, nil
}

// ReceiptCountsByToken tallies receipts per token, the organic-usage signal
// fed into network weight adjustment.
func (r *Registry) ReceiptCountsByToken() (map[string]int, error) {
	iter := r.db.NewIterator([]byte(receiptKeyPrefix))
	defer iter.Release()

	counts := make(map[string]int)
	for iter.Next() {
		var rc Receipt
		if err := sonic.Unmarshal(iter.Value(), &rc); err != nil {
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		counts[rc.Token]++
	}
	return counts, iter.Error()
}

// ReceiptMinerMultiplier returns the accepted/total receipt ratio for a miner
// on a token, or 1.0 when the miner has no receipts yet.
func (r *Registry) ReceiptMinerMultiplier(token, minerKey string) (float64, error) {
	iter := r.db.NewIterator([]byte(receiptKeyPrefix + token + ":" + minerKey + ":"))
	defer iter.Release()

	total, accepted := 0, 0
	for iter.Next() {
		var rc Receipt
		if err := sonic.Unmarshal(iter.Value(), &rc); err != nil {
			return 0, fmt.Errorf("unmarshal receipt: %w", err)
		}
		total++
		if rc.Accepted {
			accepted++
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if total == 0 {
		return 1.0, nil
	}
	return float64(accepted) / float64(total), nil
}

// Leaderboard joins miner records with receipt counts for the token (all
// tokens when empty), ordered by (last seen, rank) descending.
func (r *Registry) Leaderboard(token string) ([]LeaderboardEntry, error) {
	records, err := r.ListByToken(token)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	iter := r.db.NewIterator([]byte(receiptKeyPrefix))
	for iter.Next() {
		var rc Receipt
		if err := sonic.Unmarshal(iter.Value(), &rc); err != nil {
			iter.Release()
			return nil, fmt.Errorf("unmarshal receipt: %w", err)
		}
		counts[rc.MinerKey]++
	}
	if err := iter.Error(); err != nil {
		iter.Release()
		return nil, err
	}
	iter.Release()

	entries := make([]LeaderboardEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, LeaderboardEntry{
			Token:         rec.Token,
			MinerKey:      rec.MinerKey,
			LastSeen:      rec.LastSeen,
			Rank:          rec.Rank,
			TotalReceipts: counts[rec.MinerKey],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].LastSeen.Equal(entries[j].LastSeen) {
			return entries[i].LastSeen.After(entries[j].LastSeen)
		}
		return entries[i].Rank > entries[j].Rank
	})
	return entries, nil
}

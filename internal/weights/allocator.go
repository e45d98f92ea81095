package weights

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"github.com/tokengraph-labs/tokengraph/internal/chain"
)

// WeightScale is the integer range a normalized score map is projected onto.
const WeightScale = 1000

// Allocator normalizes a score map into integer weights, persists them and
// submits the vote. The vote call is the only side effect crossing into the
// chain boundary.
type Allocator struct {
	storage StorageInterface
	chain   chain.ClientInterface
	key     string
	netuid  int
}

func NewAllocator(storage StorageInterface, chainClient chain.ClientInterface, key string, netuid int) *Allocator {
	return &Allocator{
		storage: storage,
		chain:   chainClient,
		key:     key,
		netuid:  netuid,
	}
}

// CutToMaxAllowed truncates a score map to at most maxAllowed entries,
// dropping the lowest scores first. Equal scores at the cut line are broken
// by lowest UID.
func CutToMaxAllowed(scores map[int]float64, maxAllowed int) map[int]float64 {
	if maxAllowed <= 0 || len(scores) <= maxAllowed {
		return scores
	}

	uids := make([]int, 0, len(scores))
	for uid := range scores {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		if scores[uids[i]] != scores[uids[j]] {
			return scores[uids[i]] > scores[uids[j]]
		}
		return uids[i] < uids[j]
	})

	cut := make(map[int]float64, maxAllowed)
	for _, uid := range uids[:maxAllowed] {
		cut[uid] = scores[uid]
	}
	return cut
}

// SetWeights converts the score map into integer weights on the 0-1000
// scale, prunes UIDs absent from this round, persists the result and submits
// a single vote.
func (a *Allocator) SetWeights(scores map[int]float64, maxAllowed int) error {
	scores = CutToMaxAllowed(scores, maxAllowed)

	if err := a.storage.Setup(); err != nil {
		return fmt.Errorf("setup weights storage: %w", err)
	}
	weighted, err := a.storage.Read()
	if err != nil {
		return fmt.Errorf("read weights storage: %w", err)
	}

	values := make([]float64, 0, len(scores))
	for _, score := range scores {
		values = append(values, score)
	}
	scoreSum := floats.Sum(values)

	for uid, score := range scores {
		if scoreSum == 0 {
			weighted[uid] = 0
		} else {
			weighted[uid] = int(score * WeightScale / scoreSum)
		}
	}

	// Stale UIDs from previous rounds are pruned from the live set.
	for uid := range weighted {
		if _, ok := scores[uid]; !ok {
			delete(weighted, uid)
		}
	}

	if err := a.storage.Store(weighted); err != nil {
		return fmt.Errorf("store weights: %w", err)
	}

	uids := make([]int, 0, len(weighted))
	for uid := range weighted {
		uids = append(uids, uid)
	}
	sort.Ints(uids)
	values2 := make([]int, 0, len(uids))
	for _, uid := range uids {
		values2 = append(values2, weighted[uid])
	}

	if len(weighted) > 0 {
		if err := a.chain.Vote(a.key, uids, values2, a.netuid); err != nil {
			return fmt.Errorf("submit vote: %w", err)
		}
	}

	log.Info().
		Int("netuid", a.netuid).
		Interface("weighted_scores", weighted).
		Msg("Set weights")
	return nil
}

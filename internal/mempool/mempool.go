// Package mempool implements the tiered, capacity-bounded transaction
// queue described in spec §4.2: three priority-ordered tiers, each with a
// fixed capacity, backed by a crash-safe persisted snapshot.
package mempool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

// Capacities per spec §3 "Mempool Snapshot".
const (
	Capacity1 = 100
	Capacity2 = 2000
	Capacity3 = 8000
)

// Pool is the in-memory tiered mempool. All mutating operations hold mu for
// their duration: the in-memory state and the persisted snapshot are kept
// in lockstep, and a persistence failure rolls the in-memory mutation back
// so the two never diverge.
type Pool struct {
	mu    sync.Mutex
	log   *zap.Logger
	store storage.Store

	tier1, tier2, tier3 []model.MempoolEntry
}

// New constructs an empty Pool. Call Load to rehydrate from the store.
func New(log *zap.Logger, store storage.Store) *Pool {
	p := &Pool{log: log, store: store}
	activePool = p
	return p
}

// Load rehydrates the pool from the last persisted snapshot, if any.
func (p *Pool) Load(ctx context.Context) error {
	snap, found, err := p.store.LoadMempoolSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("mempool: load snapshot: %w", err)
	}
	if !found {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tier1 = snap.Tier1
	p.tier2 = snap.Tier2
	p.tier3 = snap.Tier3
	return nil
}

// AddResult is the outcome of Add: the tier the transaction landed in and,
// if the tier was over capacity after insertion, the entry evicted to make
// room.
type AddResult struct {
	Tier    int
	Evicted *model.MempoolEntry
}

// selectTier implements spec §4.2 "Tier selection": priority thresholds
// are authoritative; the hint only promotes into tier 1 or 2 when equal to
// them, it never demotes a high-priority transaction into a lower tier.
func selectTier(hint int, priority float64) int {
	switch {
	case hint == 1 || priority >= 0.85:
		return 1
	case hint == 2 || priority >= 0.60:
		return 2
	default:
		return 3
	}
}

// Add places tx into the tier implied by its breakdown's priority and the
// caller-supplied hint, enforces that tier's capacity, and returns any
// entry evicted as a result.
func (p *Pool) Add(ctx context.Context, tx model.Transaction, breakdown model.PriorityBreakdown, hint int) (AddResult, error) {
	tier := selectTier(hint, breakdown.Priority)
	entry := model.MempoolEntry{
		Transaction: tx,
		Tier:        tier,
		Priority:    breakdown.Priority,
		Breakdown:   breakdown,
		AdmittedAt:  time.Now().UTC(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.snapshotLocked()

	list := p.tierSliceLocked(tier)
	list = append(list, entry)
	sortByPriorityDesc(list)

	var evicted *model.MempoolEntry
	if cap := capacityFor(tier); len(list) > cap {
		ev := list[len(list)-1]
		evicted = &ev
		list = list[:len(list)-1]
		evictionsTotal.Inc()
	}
	p.setTierSliceLocked(tier, list)

	if err := p.persistLocked(ctx); err != nil {
		p.restoreLocked(before)
		return AddResult{}, err
	}
	return AddResult{Tier: tier, Evicted: evicted}, nil
}

// RemoveByID removes the entry with the given transaction id from whichever
// tier holds it. Returns false if no such entry exists.
func (p *Pool) RemoveByID(ctx context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.snapshotLocked()
	removed := false
	for _, tier := range []int{1, 2, 3} {
		list := p.tierSliceLocked(tier)
		out := list[:0:0]
		for _, e := range list {
			if e.Transaction.ID == id {
				removed = true
				continue
			}
			out = append(out, e)
		}
		if removed {
			p.setTierSliceLocked(tier, out)
			break
		}
	}
	if !removed {
		return false, nil
	}
	if err := p.persistLocked(ctx); err != nil {
		p.restoreLocked(before)
		return false, err
	}
	return true, nil
}

// Flush clears every tier and persists the now-empty snapshot.
func (p *Pool) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.snapshotLocked()
	p.tier1, p.tier2, p.tier3 = nil, nil, nil
	if err := p.persistLocked(ctx); err != nil {
		p.restoreLocked(before)
		return err
	}
	return nil
}

// ByTier returns the top-N transactions (highest priority first) of a tier.
// limit <= 0 means no limit.
func (p *Pool) ByTier(tier int, limit int) []model.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.tierSliceLocked(tier)
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	out := make([]model.Transaction, 0, len(list))
	for _, e := range list {
		out = append(out, e.Transaction)
	}
	return out
}

// Stats reports current occupancy and fixed capacities. ValidatorsOnline
// and ValidatorsTotal are filled in by the caller (the mempool has no
// notion of validator liveness itself); zero values mean "unknown".
func (p *Pool) Stats() model.MempoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.MempoolStats{
		Size1: len(p.tier1), Size2: len(p.tier2), Size3: len(p.tier3),
		Capacity1: Capacity1, Capacity2: Capacity2, Capacity3: Capacity3,
	}
}

// Snapshot returns a copy of the three tier queues as currently held.
func (p *Pool) Snapshot() model.MempoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pool) snapshotLocked() model.MempoolSnapshot {
	return model.MempoolSnapshot{
		Tier1: append([]model.MempoolEntry(nil), p.tier1...),
		Tier2: append([]model.MempoolEntry(nil), p.tier2...),
		Tier3: append([]model.MempoolEntry(nil), p.tier3...),
	}
}

func (p *Pool) restoreLocked(snap model.MempoolSnapshot) {
	p.tier1, p.tier2, p.tier3 = snap.Tier1, snap.Tier2, snap.Tier3
}

func (p *Pool) persistLocked(ctx context.Context) error {
	if err := p.store.SaveMempoolSnapshot(ctx, p.snapshotLocked()); err != nil {
		if p.log != nil {
			p.log.Error("mempool: persist snapshot failed, rolling back in-memory mutation", zap.Error(err))
		}
		return fmt.Errorf("mempool: persist snapshot: %w", err)
	}
	return nil
}

func (p *Pool) tierSliceLocked(tier int) []model.MempoolEntry {
	switch tier {
	case 1:
		return p.tier1
	case 2:
		return p.tier2
	default:
		return p.tier3
	}
}

func (p *Pool) setTierSliceLocked(tier int, list []model.MempoolEntry) {
	switch tier {
	case 1:
		p.tier1 = list
	case 2:
		p.tier2 = list
	default:
		p.tier3 = list
	}
}

func capacityFor(tier int) int {
	switch tier {
	case 1:
		return Capacity1
	case 2:
		return Capacity2
	default:
		return Capacity3
	}
}

// sortByPriorityDesc is a stable sort so that insertion order breaks ties
// deterministically, per spec §4.2 "Ordering and eviction".
func sortByPriorityDesc(list []model.MempoolEntry) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority > list[j].Priority
	})
}

package mempool

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(zap.NewNop(), store)
}

func txWithPriority(id string, priority float64) (model.Transaction, model.PriorityBreakdown) {
	return model.Transaction{ID: id, Type: "Test"}, model.PriorityBreakdown{Priority: priority}
}

func TestAdd_TierSelectionByPriorityThresholds(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	cases := []struct {
		priority float64
		wantTier int
	}{
		{0.90, 1},
		{0.85, 1},
		{0.70, 2},
		{0.60, 2},
		{0.59, 3},
		{0.10, 3},
	}
	for i, c := range cases {
		tx, bd := txWithPriority(fmt.Sprintf("tx-%d", i), c.priority)
		res, err := pool.Add(ctx, tx, bd, 0)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if res.Tier != c.wantTier {
			t.Errorf("priority %v: tier = %d, want %d", c.priority, res.Tier, c.wantTier)
		}
	}
}

func TestAdd_EvictsLowestPriorityWhenTierFull(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	for i := 0; i < Capacity1; i++ {
		tx, bd := txWithPriority(fmt.Sprintf("full-%d", i), 0.90)
		if _, err := pool.Add(ctx, tx, bd, 0); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}
	}

	tx, bd := txWithPriority("newcomer", 0.86)
	res, err := pool.Add(ctx, tx, bd, 0)
	if err != nil {
		t.Fatalf("Add newcomer: %v", err)
	}

	if res.Evicted == nil {
		t.Fatal("expected an eviction when tier 1 is at capacity")
	}
	if res.Evicted.Transaction.ID != "newcomer" {
		t.Errorf("evicted = %q, want the newcomer since it has the lowest priority among 101 entries", res.Evicted.Transaction.ID)
	}

	snap := pool.Snapshot()
	if len(snap.Tier1) != Capacity1 {
		t.Errorf("tier 1 size = %d, want %d (unchanged)", len(snap.Tier1), Capacity1)
	}
	for _, e := range snap.Tier1 {
		if e.Transaction.ID == "newcomer" {
			t.Error("newcomer should have been evicted, not retained")
		}
	}
}

func TestAdd_TierRemainsSortedByPriorityDescending(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	priorities := []float64{0.61, 0.75, 0.60, 0.80, 0.65}
	for i, pr := range priorities {
		tx, bd := txWithPriority(fmt.Sprintf("tx-%d", i), pr)
		if _, err := pool.Add(ctx, tx, bd, 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	snap := pool.Snapshot()
	for i := 1; i < len(snap.Tier2); i++ {
		if snap.Tier2[i-1].Priority < snap.Tier2[i].Priority {
			t.Fatalf("tier 2 not sorted descending at index %d: %v then %v", i, snap.Tier2[i-1].Priority, snap.Tier2[i].Priority)
		}
	}
}

func TestRemoveByID(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	tx, bd := txWithPriority("to-remove", 0.70)
	if _, err := pool.Add(ctx, tx, bd, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ok, err := pool.RemoveByID(ctx, "to-remove")
	if err != nil || !ok {
		t.Fatalf("RemoveByID: ok=%v err=%v", ok, err)
	}

	ok, err = pool.RemoveByID(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("RemoveByID unexpected error: %v", err)
	}
	if ok {
		t.Error("RemoveByID should report false for an absent id")
	}
}

func TestFlush(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tx, bd := txWithPriority(fmt.Sprintf("tx-%d", i), 0.5)
		if _, err := pool.Add(ctx, tx, bd, 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := pool.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats := pool.Stats()
	if stats.TotalSize() != 0 {
		t.Errorf("size after flush = %d, want 0", stats.TotalSize())
	}
}

func TestByTier_RespectsLimitAndOrder(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	for i, pr := range []float64{0.61, 0.80, 0.70} {
		tx, bd := txWithPriority(fmt.Sprintf("tx-%d", i), pr)
		if _, err := pool.Add(ctx, tx, bd, 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	top := pool.ByTier(2, 2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].ID != "tx-1" {
		t.Errorf("top[0] = %q, want tx-1 (priority 0.80)", top[0].ID)
	}
}

func TestLoad_RehydratesFromPersistedSnapshot(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	pool1 := New(zap.NewNop(), store)
	tx, bd := txWithPriority("persisted", 0.95)
	if _, err := pool1.Add(ctx, tx, bd, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}

	pool2 := New(zap.NewNop(), store)
	if err := pool2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	stats := pool2.Stats()
	if stats.Size1 != 1 {
		t.Errorf("size1 after reload = %d, want 1", stats.Size1)
	}
}

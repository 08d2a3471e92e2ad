package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/reference"
	"clinicalledger/backend/internal/storage"
)

func writeValidators(t *testing.T, root string, validators []model.Validator) {
	t.Helper()
	dir := filepath.Join(root, "reference")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(validators)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "validators.json"), b, 0o644); err != nil {
		t.Fatalf("write validators.json: %v", err)
	}
}

func TestSnapshotDerivesFromValidatorsAndAuditTail(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	writeValidators(t, root, []model.Validator{
		{ID: "v1", BlocksProposed: 42, Uptime: 0.9, LastSeen: time.Now().UTC()},
		{ID: "v2", BlocksProposed: 10, Uptime: 0.9, LastSeen: time.Now().UTC().Add(-1 * time.Hour)},
	})

	if err := store.AppendAuditEntry(context.Background(), model.AuditEntry{
		Sequence:      1,
		ID:            "a1",
		Timestamp:     time.Now().UTC(),
		Action:        "submit_transaction",
		ActorID:       "actor-1",
		ActorType:     "system",
		Resource:      "transaction:t1",
		Outcome:       "success",
		BlockHash:     "0xabc",
		PrevHash:      "AUDIT_ROOT",
		IntegrityHash: "deadbeef",
	}); err != nil {
		t.Fatalf("AppendAuditEntry: %v", err)
	}

	dir := reference.New(store)
	provider := NewReferenceBackedProvider(dir, store)

	snap, err := provider.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.ValidatorsTotal != 2 {
		t.Fatalf("expected 2 total validators, got %d", snap.ValidatorsTotal)
	}
	if snap.ValidatorsOnline != 1 {
		t.Fatalf("expected 1 online validator (within heartbeat window), got %d", snap.ValidatorsOnline)
	}
	if snap.Height != 42 {
		t.Fatalf("expected height 42 (max blocksProposed), got %d", snap.Height)
	}
	if snap.TotalBlocks != 1 {
		t.Fatalf("expected totalBlocks 1 (audit tail sequence), got %d", snap.TotalBlocks)
	}
	if snap.LatestBlockHash != "0xabc" {
		t.Fatalf("expected latest block hash from audit tail, got %q", snap.LatestBlockHash)
	}
}

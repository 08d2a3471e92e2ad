package reference

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

func writeReferenceFile(t *testing.T, root, name string, v any) {
	t.Helper()
	dir := filepath.Join(root, "reference")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), b, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadValidatorStatsCountsByUptime(t *testing.T) {
	root := t.TempDir()
	store, err := storage.NewFileStore(root)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	writeReferenceFile(t, root, "validators.json", []model.Validator{
		{ID: "v1", Tier: 1, Reputation: 0.9, Uptime: 0.99, LastSeen: time.Now().UTC()},
		{ID: "v2", Tier: 1, Reputation: 0.8, Uptime: 0.40, LastSeen: time.Now().UTC()},
		{ID: "v3", Tier: 2, Reputation: 0.5, Uptime: 0.50, LastSeen: time.Now().UTC()},
	})

	dir := New(store)
	stats, err := dir.LoadValidatorStats(context.Background())
	if err != nil {
		t.Fatalf("LoadValidatorStats: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected 3 total validators, got %d", stats.Total)
	}
	if stats.Online != 2 {
		t.Fatalf("expected 2 online validators (uptime >= 0.5), got %d", stats.Online)
	}
}

func TestLoadCountsEmptyDirectory(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	dir := New(store)
	counts, err := dir.LoadCounts(context.Background())
	if err != nil {
		t.Fatalf("LoadCounts: %v", err)
	}
	if counts.Providers != 0 || counts.Patients != 0 || counts.Validators != 0 {
		t.Fatalf("expected all-zero counts for an empty directory, got %+v", counts)
	}
}

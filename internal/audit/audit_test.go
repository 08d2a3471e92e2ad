package audit

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return New(zap.NewNop(), store)
}

func baseInput(action string) RecordInput {
	return RecordInput{
		Action:    action,
		ActorID:   "actor-1",
		ActorType: "clinician",
		Resource:  "transaction",
		Outcome:   "success",
	}
}

func TestRecord_FirstEntryChainsFromRoot(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	entry, err := log.Record(ctx, baseInput("submit"))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", entry.Sequence)
	}
	if entry.PrevHash != RootHash {
		t.Errorf("prevHash = %q, want %q", entry.PrevHash, RootHash)
	}
	if entry.IntegrityHash == "" {
		t.Error("integrityHash must not be empty")
	}
	if entry.Channel != "system" {
		t.Errorf("channel defaulted to %q, want system", entry.Channel)
	}
}

func TestRecord_SequencesIncreaseWithNoGaps(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	var prevHash string
	for i := 0; i < 5; i++ {
		entry, err := log.Record(ctx, baseInput("submit"))
		if err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
		if int(entry.Sequence) != i+1 {
			t.Errorf("entry %d: sequence = %d, want %d", i, entry.Sequence, i+1)
		}
		if i == 0 {
			if entry.PrevHash != RootHash {
				t.Errorf("first prevHash = %q, want %q", entry.PrevHash, RootHash)
			}
		} else if entry.PrevHash != prevHash {
			t.Errorf("entry %d: prevHash = %q, want previous integrityHash %q", i, entry.PrevHash, prevHash)
		}
		prevHash = entry.IntegrityHash
	}
}

func TestRecord_MissingRequiredFieldRejected(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	_, err := log.Record(ctx, RecordInput{ActorID: "a", ActorType: "clinician", Resource: "r", Outcome: "success"})
	if err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestRehydrate_ResumesChainFromDurableTail(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	log1 := New(zap.NewNop(), store)
	for i := 0; i < 3; i++ {
		if _, err := log1.Record(ctx, baseInput("submit")); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	log2 := New(zap.NewNop(), store)
	if err := log2.Rehydrate(ctx); err != nil {
		t.Fatalf("Rehydrate: %v", err)
	}
	entry, err := log2.Record(ctx, baseInput("submit"))
	if err != nil {
		t.Fatalf("Record after rehydrate: %v", err)
	}
	if entry.Sequence != 4 {
		t.Errorf("sequence after rehydrate = %d, want 4", entry.Sequence)
	}
}

func TestQuery_FiltersByActorIDAndPaginates(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		in := baseInput("submit")
		if i%2 == 0 {
			in.ActorID = "actor-even"
		}
		if _, err := log.Record(ctx, in); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	res, err := log.Query(ctx, QueryOptions{Filter: model.AuditFilter{ActorID: "actor-even"}, Limit: 100})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.TotalMatches != 5 {
		t.Errorf("totalMatches = %d, want 5", res.TotalMatches)
	}
}

func TestQuery_TerminalPageOmitsNextCursor(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	const total = 250
	for i := 0; i < total; i++ {
		if _, err := log.Record(ctx, baseInput("submit")); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	page1, err := log.Query(ctx, QueryOptions{Limit: 100})
	if err != nil {
		t.Fatalf("Query page 1: %v", err)
	}
	if len(page1.Entries) != 100 || !page1.HasMore || page1.NextCursor == "" {
		t.Fatalf("page1 = %+v, want 100 entries, hasMore=true, non-empty nextCursor", page1)
	}
	if page1.PreviousCursor != "" {
		t.Errorf("first page must not set previousCursor, got %q", page1.PreviousCursor)
	}

	page2, err := log.Query(ctx, QueryOptions{Limit: 100, Cursor: page1.NextCursor})
	if err != nil {
		t.Fatalf("Query page 2: %v", err)
	}
	if len(page2.Entries) != 100 || !page2.HasMore || page2.NextCursor == "" {
		t.Fatalf("page2 = %+v, want 100 entries, hasMore=true, non-empty nextCursor", page2)
	}

	page3, err := log.Query(ctx, QueryOptions{Limit: 100, Cursor: page2.NextCursor})
	if err != nil {
		t.Fatalf("Query page 3: %v", err)
	}
	if len(page3.Entries) != 50 {
		t.Fatalf("page3 entries = %d, want 50", len(page3.Entries))
	}
	if page3.HasMore {
		t.Error("terminal page must report hasMore=false")
	}
	if page3.NextCursor != "" {
		t.Errorf("terminal page must not set nextCursor, got %q", page3.NextCursor)
	}
	if page3.PreviousCursor == "" {
		t.Error("terminal (non-first) page should still set previousCursor")
	}
}

func TestExportCsv_QuotesFieldsWithSpecialChars(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	in := baseInput("submit")
	in.Details = `contains, a comma and "quotes"`
	if _, err := log.Record(ctx, in); err != nil {
		t.Fatalf("Record: %v", err)
	}

	csv, err := log.ExportCsv(ctx, model.AuditFilter{})
	if err != nil {
		t.Fatalf("ExportCsv: %v", err)
	}
	if csv == "" {
		t.Fatal("expected non-empty csv")
	}
}

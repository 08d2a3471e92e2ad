// Package audit implements the append-only, hash-chained audit log of
// spec §4.3: every operator and system action is recorded so that tampering
// with any entry breaks the chain for every entry after it.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

// RootHash is prevHash for the first entry of an empty log.
const RootHash = "AUDIT_ROOT"

// RecordInput is the caller-supplied half of an AuditEntry; the log fills
// in id, sequence, timestamp, prevHash, and integrityHash.
type RecordInput struct {
	Action    string
	ActorID   string
	ActorType string
	Resource  string
	Outcome   string
	PatientID string
	IPAddress string
	BlockHash string
	Details   string
	Metadata  map[string]any
	Tags      []string
	Channel   string
}

// ErrMissingField is returned by Record when a required field is blank.
type ErrMissingField struct{ Field string }

func (e ErrMissingField) Error() string { return fmt.Sprintf("audit: missing required field %q", e.Field) }

// Log is the single-writer, append-only audit log. Appends are strictly
// serialized under mu: compute hash, write, advance state, never
// interleaved. Queries read the full log from storage and are never
// blocked by an in-flight append.
type Log struct {
	mu  sync.Mutex
	log *zap.Logger
	store storage.Store

	nextSequence     int64
	lastIntegrityHash string
}

// New constructs a Log. Call Rehydrate before serving traffic so
// nextSequence/lastIntegrityHash reflect the tail of the durable log.
func New(log *zap.Logger, store storage.Store) *Log {
	return &Log{log: log, store: store, nextSequence: 1, lastIntegrityHash: RootHash}
}

// Rehydrate recomputes in-memory chain state from the durable tail entry.
// Safe to call after an unclean shutdown: the tail is the source of truth.
func (l *Log) Rehydrate(ctx context.Context) error {
	tail, found, err := l.store.TailAuditEntry(ctx)
	if err != nil {
		return fmt.Errorf("audit: rehydrate: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !found {
		l.nextSequence = 1
		l.lastIntegrityHash = RootHash
		return nil
	}
	l.nextSequence = tail.Sequence + 1
	l.lastIntegrityHash = tail.IntegrityHash
	return nil
}

// Record validates, chains, appends, and returns the canonical entry.
func (l *Log) Record(ctx context.Context, in RecordInput) (model.AuditEntry, error) {
	if in.Action == "" {
		return model.AuditEntry{}, ErrMissingField{"action"}
	}
	if in.ActorID == "" {
		return model.AuditEntry{}, ErrMissingField{"actorId"}
	}
	if in.ActorType == "" {
		return model.AuditEntry{}, ErrMissingField{"actorType"}
	}
	if in.Resource == "" {
		return model.AuditEntry{}, ErrMissingField{"resource"}
	}
	if in.Outcome == "" {
		return model.AuditEntry{}, ErrMissingField{"outcome"}
	}

	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	channel := in.Channel
	if channel == "" {
		channel = "system"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := model.AuditEntry{
		Sequence: l.nextSequence,
		ID:       uuid.NewString(),
		// Truncated to microseconds so the stored value matches what comes
		// back out of the Postgres backend's timestamptz column bit for
		// bit; integrityHash is computed from this same truncated value, so
		// a recompute-from-stored-fields check (spec §8) agrees on either
		// storage backend.
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Action:    in.Action,
		ActorID:   in.ActorID,
		ActorType: in.ActorType,
		Resource:  in.Resource,
		Outcome:   in.Outcome,
		PatientID: in.PatientID,
		IPAddress: in.IPAddress,
		BlockHash: in.BlockHash,
		Details:   in.Details,
		Metadata:  metadata,
		Tags:      tags,
		Channel:   channel,
		PrevHash:  l.lastIntegrityHash,
	}
	entry.IntegrityHash = integrityHash(entry)

	if err := l.store.AppendAuditEntry(ctx, entry); err != nil {
		l.log.Error("audit: append failed, chain state not advanced", zap.Error(err), zap.Int64("sequence", entry.Sequence))
		return model.AuditEntry{}, fmt.Errorf("audit: append: %w", err)
	}

	l.nextSequence++
	l.lastIntegrityHash = entry.IntegrityHash
	entriesRecordedTotal.Inc()
	return entry, nil
}

// integrityHash is SHA-256 of a canonical JSON serialization of the entry's
// chained fields, per spec §4.3. map[string]any marshals its keys in sorted
// order via encoding/json, which is what gives us a canonical form without
// a third-party canonicalization library.
func integrityHash(e model.AuditEntry) string {
	canonical := map[string]any{
		"prevHash":  e.PrevHash,
		"sequence":  e.Sequence,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"action":    e.Action,
		"actorId":   e.ActorID,
		"actorType": e.ActorType,
		"resource":  e.Resource,
		"outcome":   e.Outcome,
		"patientId": e.PatientID,
		"ipAddress": e.IPAddress,
		"blockHash": e.BlockHash,
		"details":   e.Details,
		"metadata":  e.Metadata,
		"tags":      e.Tags,
		"channel":   e.Channel,
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		// Marshal of a map[string]any built entirely from this entry's own
		// fields cannot fail in practice; treat it as unreachable.
		panic(fmt.Sprintf("audit: canonical marshal: %v", err))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// QueryResult is the paginated, filtered view returned by Query.
type QueryResult struct {
	Entries        []model.AuditEntry
	TotalMatches   int
	NextCursor     string
	PreviousCursor string
	HasMore        bool
}

// QueryOptions composes model.AuditFilter with pagination parameters.
type QueryOptions struct {
	Filter    model.AuditFilter
	Limit     int
	Cursor    string
	Direction string // "asc" or "desc"; defaults to "desc"
}

// Query performs a paginated filtered scan per spec §4.3 "Query semantics".
func (l *Log) Query(ctx context.Context, opts QueryOptions) (QueryResult, error) {
	all, err := l.store.QueryAuditEntries(ctx, opts.Filter)
	if err != nil {
		return QueryResult{}, fmt.Errorf("audit: query: %w", err)
	}

	desc := opts.Direction != "asc"
	sort.SliceStable(all, func(i, j int) bool {
		if desc {
			return all[i].Sequence > all[j].Sequence
		}
		return all[i].Sequence < all[j].Sequence
	})

	total := len(all)

	start := 0
	if opts.Cursor != "" {
		cursorSeq, err := strconv.ParseInt(opts.Cursor, 10, 64)
		if err != nil {
			return QueryResult{}, fmt.Errorf("audit: invalid cursor %q", opts.Cursor)
		}
		for i, e := range all {
			if desc && e.Sequence < cursorSeq {
				start = i
				break
			}
			if !desc && e.Sequence > cursorSeq {
				start = i
				break
			}
			start = i + 1
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) {
		start = len(all)
	}
	page := all[start:end]

	result := QueryResult{Entries: page, TotalMatches: total, HasMore: end < len(all)}
	if len(page) > 0 {
		if result.HasMore {
			result.NextCursor = strconv.FormatInt(page[len(page)-1].Sequence, 10)
		}
		if start > 0 {
			result.PreviousCursor = strconv.FormatInt(page[0].Sequence, 10)
		}
	}
	return result, nil
}

// ExportCsv renders matching entries as a CSV string with the fixed column
// order from spec §6. Fields containing a comma, quote, or newline are
// quoted, with embedded quotes doubled.
func (l *Log) ExportCsv(ctx context.Context, filter model.AuditFilter) (string, error) {
	entries, err := l.store.QueryAuditEntries(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("audit: export csv: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Sequence < entries[j].Sequence })

	var sb strings.Builder
	header := []string{"sequence", "id", "timestamp", "action", "actorId", "actorType", "resource", "outcome", "patientId", "ipAddress", "blockHash", "channel", "tags", "details"}
	writeCsvRow(&sb, header)
	for _, e := range entries {
		row := []string{
			strconv.FormatInt(e.Sequence, 10),
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Action,
			e.ActorID,
			e.ActorType,
			e.Resource,
			e.Outcome,
			e.PatientID,
			e.IPAddress,
			e.BlockHash,
			e.Channel,
			strings.Join(e.Tags, "|"),
			e.Details,
		}
		writeCsvRow(&sb, row)
	}
	return sb.String(), nil
}

func writeCsvRow(sb *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(csvField(f))
	}
	sb.WriteString("\r\n")
}

func csvField(f string) string {
	if strings.ContainsAny(f, ",\"\n\r") {
		return `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return f
}

// PruneRetention deletes entries whose timestamp is older than olderThan.
// It does not reset or rehydrate the in-memory chain state: nextSequence
// and lastIntegrityHash keep their values, so later appends continue the
// chain from the last recorded entry even when the prune removed every
// entry, tail included.
func (l *Log) PruneRetention(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	n, err := l.store.PruneAuditBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: prune retention: %w", err)
	}
	if n > 0 && l.log != nil {
		l.log.Info("audit: pruned entries older than retention window", zap.Int("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RotateIfOversize rotates the durable log to a timestamped archive when it
// exceeds maxBytes, per spec §4.3 "size rotation". Best-effort: failures are
// logged and do not interrupt the caller.
func (l *Log) RotateIfOversize(ctx context.Context, maxBytes int64) {
	if maxBytes <= 0 {
		return
	}
	size, err := l.store.AuditLogSizeBytes(ctx)
	if err != nil {
		l.log.Warn("audit: size check failed", zap.Error(err))
		return
	}
	if size < maxBytes {
		return
	}
	suffix := time.Now().UTC().Format("20060102T150405Z")
	if err := l.store.RotateAuditLog(ctx, suffix); err != nil {
		l.log.Warn("audit: rotation failed", zap.Error(err))
		return
	}
	l.log.Info("audit: rotated oversize log", zap.Int64("size_bytes", size), zap.String("archive_suffix", suffix))
}

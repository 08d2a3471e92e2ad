// Package storage defines the durable backend the ledger core runs
// against and provides two implementations: a relational one (Postgres,
// via pgx) and a file-based one (JSON documents under DATA_ROOT), per
// spec.md §6 "Persisted state layout".
package storage

import (
	"context"
	"errors"
	"time"

	"clinicalledger/backend/internal/model"
)

// ErrNotFound is returned by single-row lookups that found nothing.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable backend contract every subsystem mutates through.
type Store interface {
	// Transactions
	UpsertTransaction(ctx context.Context, tx model.Transaction) error
	GetTransaction(ctx context.Context, id string) (model.Transaction, error)
	QueryTransactions(ctx context.Context, patientID, txType, status string, limit int) ([]model.Transaction, error)

	// Mempool snapshot
	LoadMempoolSnapshot(ctx context.Context) (model.MempoolSnapshot, bool, error)
	SaveMempoolSnapshot(ctx context.Context, snap model.MempoolSnapshot) error

	// Audit log
	AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error
	TailAuditEntry(ctx context.Context) (model.AuditEntry, bool, error)
	GetAuditEntryBySequence(ctx context.Context, seq int64) (model.AuditEntry, bool, error)
	QueryAuditEntries(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
	PruneAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
	AuditLogSizeBytes(ctx context.Context) (int64, error)
	RotateAuditLog(ctx context.Context, archiveSuffix string) error

	// Wallets
	UpsertWallet(ctx context.Context, w model.WalletProfile) error
	GetWallet(ctx context.Context, normalizedAddress string) (model.WalletProfile, error)
	TouchWallet(ctx context.Context, normalizedAddress string, at time.Time) error
	SetWalletStatus(ctx context.Context, normalizedAddress, status string) error
	CountWallets(ctx context.Context) (int, error)

	// Nonces
	PutNonce(ctx context.Context, n model.NonceRecord) error
	GetNonce(ctx context.Context, normalizedAddress string) (model.NonceRecord, error)
	DeleteNonce(ctx context.Context, normalizedAddress string) error
	SweepExpiredNonces(ctx context.Context, now time.Time) (int, error)

	// Reference directory (read-only input)
	LoadProviders(ctx context.Context) ([]model.Provider, error)
	LoadPatients(ctx context.Context) ([]model.Patient, error)
	LoadValidators(ctx context.Context) ([]model.Validator, error)

	Close() error
}

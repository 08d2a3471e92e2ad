// Package wallet implements wallet-based authentication: a nonce/signature
// challenge that lets a client prove control of an address before the
// server attributes ledger actions to them (spec §4.4, §4.5).
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

// Distinct errors for issueNonce/verify failure modes, per spec §4.4.
var (
	ErrUnknownWallet   = errors.New("wallet: unknown wallet")
	ErrNoActiveNonce   = errors.New("wallet: no active nonce")
	ErrNonceExpired    = errors.New("wallet: nonce expired")
	ErrFamilyMismatch  = errors.New("wallet: declared family does not match registered family")
	ErrPublicKeyNeeded = errors.New("wallet: custom-keypair wallet requires a public key on first sight")
)

// Service composes the wallet registry and nonce store into the
// issueNonce/verify contract of spec §4.4.
type Service struct {
	log      *zap.Logger
	store    storage.Store
	registry *Registry
	ttl      time.Duration
}

// New constructs a Service. ttl <= 0 falls back to DefaultNonceTTL.
func New(log *zap.Logger, store storage.Store, registry *Registry, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &Service{log: log, store: store, registry: registry, ttl: ttl}
}

// IssueNonceInput carries the declared family and, for a first-seen
// custom-keypair wallet, the public key and signature scheme.
type IssueNonceInput struct {
	Address   string
	Family    string
	PublicKey string
	Scheme    string
	Label     string
}

// IssueNonceResult is returned to the caller as {nonce, message, expiresAt, wallet}.
type IssueNonceResult struct {
	Nonce     string
	Message   string
	ExpiresAt time.Time
	Wallet    model.WalletProfile
}

// IssueNonce resolves or (for external-signer wallets) auto-creates the
// wallet, constructs a fresh challenge, and stores it keyed by normalized
// address.
func (s *Service) IssueNonce(ctx context.Context, in IssueNonceInput) (IssueNonceResult, error) {
	normalized := Normalize(in.Address)
	if normalized == "" {
		return IssueNonceResult{}, fmt.Errorf("wallet: address required")
	}

	profile, err := s.registry.Get(ctx, in.Address)
	switch {
	case err == nil:
		if profile.Family != in.Family {
			return IssueNonceResult{}, ErrFamilyMismatch
		}
	case errors.Is(err, storage.ErrNotFound):
		if in.Family == model.WalletFamilyCustomKeypair && in.PublicKey == "" {
			return IssueNonceResult{}, ErrPublicKeyNeeded
		}
		metadata := map[string]any{}
		if in.Scheme != "" {
			metadata["scheme"] = in.Scheme
		}
		profile, err = s.registry.Register(ctx, RegisterInput{
			Address:   in.Address,
			Family:    in.Family,
			Label:     in.Label,
			PublicKey: in.PublicKey,
			Metadata:  metadata,
		})
		if err != nil {
			return IssueNonceResult{}, fmt.Errorf("wallet: auto-register: %w", err)
		}
	default:
		return IssueNonceResult{}, fmt.Errorf("wallet: lookup: %w", err)
	}

	issuedAt := time.Now().UTC()
	record := BuildNonceRecord(in.Address, in.Family, issuedAt, s.ttl, nil)
	if err := s.store.PutNonce(ctx, record); err != nil {
		return IssueNonceResult{}, fmt.Errorf("wallet: persist nonce: %w", err)
	}

	return IssueNonceResult{Nonce: record.Nonce, Message: record.Message, ExpiresAt: record.ExpiresAt, Wallet: profile}, nil
}

// VerifyResult is returned to the caller as {wallet, verifiedAt, sessionToken, proof}.
type VerifyResult struct {
	Wallet       model.WalletProfile
	VerifiedAt   time.Time
	SessionToken string
	Proof        string
}

// Verify looks up the active nonce for address, validates the signature
// under the wallet's family, and on success consumes the nonce and updates
// lastSeenAt.
func (s *Service) Verify(ctx context.Context, address, signature string) (VerifyResult, error) {
	normalized := Normalize(address)

	profile, err := s.registry.Get(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			verifyOutcomesTotal.WithLabelValues("unknown_wallet").Inc()
			return VerifyResult{}, ErrUnknownWallet
		}
		return VerifyResult{}, fmt.Errorf("wallet: lookup: %w", err)
	}

	record, err := s.store.GetNonce(ctx, normalized)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			verifyOutcomesTotal.WithLabelValues("no_active_nonce").Inc()
			return VerifyResult{}, ErrNoActiveNonce
		}
		return VerifyResult{}, fmt.Errorf("wallet: nonce lookup: %w", err)
	}

	now := time.Now().UTC()
	if now.After(record.ExpiresAt) {
		_ = s.store.DeleteNonce(ctx, normalized)
		verifyOutcomesTotal.WithLabelValues("nonce_expired").Inc()
		return VerifyResult{}, ErrNonceExpired
	}

	if err := VerifySignature(profile, record.Message, signature); err != nil {
		verifyOutcomesTotal.WithLabelValues("signature_invalid").Inc()
		return VerifyResult{}, ErrSignatureInvalid
	}

	if err := s.store.DeleteNonce(ctx, normalized); err != nil {
		return VerifyResult{}, fmt.Errorf("wallet: consume nonce: %w", err)
	}
	if err := s.registry.Touch(ctx, address, now); err != nil {
		s.log.Warn("wallet: touch lastSeenAt failed after successful verify", zap.Error(err), zap.String("address", normalized))
	}

	verifiedAt := now
	verifyOutcomesTotal.WithLabelValues("success").Inc()
	return VerifyResult{
		Wallet:       profile,
		VerifiedAt:   verifiedAt,
		SessionToken: sessionToken(profile.ID, record.Nonce, verifiedAt),
		Proof:        proof(signature, record.Message),
	}, nil
}

// sessionToken implements spec §4.4: sha256(wallet.id + ":" + nonce + ":" + verifiedAt).
func sessionToken(walletID, nonce string, verifiedAt time.Time) string {
	sum := sha256.Sum256([]byte(walletID + ":" + nonce + ":" + verifiedAt.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// proof implements spec §4.4: sha256(signature + ":" + message).
func proof(signature, message string) string {
	sum := sha256.Sum256([]byte(signature + ":" + message))
	return hex.EncodeToString(sum[:])
}

// SweepExpiredNonces deletes nonces past their TTL; intended for a periodic
// background sweep.
func (s *Service) SweepExpiredNonces(ctx context.Context) (int, error) {
	n, err := s.store.SweepExpiredNonces(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("wallet: sweep expired nonces: %w", err)
	}
	return n, nil
}

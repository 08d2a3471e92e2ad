package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

// RegisterInput is the caller-supplied half of a wallet registration.
type RegisterInput struct {
	Address   string
	Family    string
	Label     string
	PublicKey string
	Metadata  map[string]any
	Roles     []string
}

// Registry is the durable keyed map from normalized address to wallet
// profile described in spec §4.5. Single-writer: every mutating call goes
// through the backing store directly, which already serializes writes per
// normalized address (its primary/unique key).
type Registry struct {
	store storage.Store
	vault *SecretStore
}

// NewRegistry constructs a Registry. vault may be nil, in which case
// public keys are kept only in the primary store.
func NewRegistry(store storage.Store, vault *SecretStore) *Registry {
	return &Registry{store: store, vault: vault}
}

// Normalize lower-cases and trims a wallet address for use as the registry
// key. External-signer addresses are hex and case-insensitive by EIP-55
// convention; custom-keypair addresses are treated the same way for
// uniformity.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Register is idempotent by normalized address: a second call with the
// same address updates label/metadata/roles on the existing profile rather
// than creating a duplicate.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (model.WalletProfile, error) {
	normalized := Normalize(in.Address)
	if normalized == "" {
		return model.WalletProfile{}, fmt.Errorf("wallet: address required")
	}
	if in.Family != model.WalletFamilyExternalSigner && in.Family != model.WalletFamilyCustomKeypair {
		return model.WalletProfile{}, fmt.Errorf("wallet: unknown family %q", in.Family)
	}
	if in.Family == model.WalletFamilyCustomKeypair && in.PublicKey == "" {
		return model.WalletProfile{}, fmt.Errorf("wallet: custom-keypair wallets require a public key")
	}

	existing, err := r.store.GetWallet(ctx, normalized)
	now := time.Now().UTC()
	if err == nil {
		if existing.Family != in.Family {
			return model.WalletProfile{}, fmt.Errorf("wallet: %s already registered under family %q", in.Address, existing.Family)
		}
		if in.Label != "" {
			existing.Label = in.Label
		}
		if in.PublicKey != "" {
			existing.PublicKey = in.PublicKey
		}
		if in.Metadata != nil {
			existing.Metadata = in.Metadata
		}
		if in.Roles != nil {
			existing.Roles = in.Roles
		}
		existing.UpdatedAt = now
		if err := r.store.UpsertWallet(ctx, existing); err != nil {
			return model.WalletProfile{}, fmt.Errorf("wallet: update: %w", err)
		}
		r.storeVaultKey(existing)
		return existing, nil
	}
	if err != storage.ErrNotFound {
		return model.WalletProfile{}, fmt.Errorf("wallet: lookup: %w", err)
	}

	roles := in.Roles
	if roles == nil {
		roles = []string{"clinician"}
	}
	metadata := in.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	profile := model.WalletProfile{
		ID:                uuid.NewString(),
		Address:           in.Address,
		NormalizedAddress: normalized,
		Family:            in.Family,
		Label:             in.Label,
		PublicKey:         in.PublicKey,
		Metadata:          metadata,
		Roles:             roles,
		Status:            model.WalletStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.store.UpsertWallet(ctx, profile); err != nil {
		return model.WalletProfile{}, fmt.Errorf("wallet: register: %w", err)
	}
	r.storeVaultKey(profile)
	return profile, nil
}

func (r *Registry) storeVaultKey(p model.WalletProfile) {
	if r.vault == nil || p.Family != model.WalletFamilyCustomKeypair || p.PublicKey == "" {
		return
	}
	// Best-effort: Vault is a recovery path for registry material, not the
	// source of truth, so failures here are not fatal to registration.
	_ = r.vault.PutWalletKey(p.NormalizedAddress, p.PublicKey)
}

// Get resolves a wallet profile by raw address. For a custom-keypair wallet
// whose primary-store row has lost its public key (e.g. restored from a
// snapshot taken before a later key rotation), it is recovered from Vault
// and the primary store is repaired in place so future lookups don't pay
// the Vault round trip again.
func (r *Registry) Get(ctx context.Context, address string) (model.WalletProfile, error) {
	profile, err := r.store.GetWallet(ctx, Normalize(address))
	if err != nil {
		return model.WalletProfile{}, err
	}
	if r.vault == nil || profile.Family != model.WalletFamilyCustomKeypair || profile.PublicKey != "" {
		return profile, nil
	}
	key, found, err := r.vault.GetWalletKey(profile.NormalizedAddress)
	if err != nil || !found {
		return profile, nil
	}
	profile.PublicKey = key
	profile.UpdatedAt = time.Now().UTC()
	if err := r.store.UpsertWallet(ctx, profile); err != nil {
		return profile, nil
	}
	return profile, nil
}

// Touch updates lastSeenAt for the wallet at address.
func (r *Registry) Touch(ctx context.Context, address string, at time.Time) error {
	return r.store.TouchWallet(ctx, Normalize(address), at)
}

// SetStatus transitions a wallet among {active, revoked, suspended}.
func (r *Registry) SetStatus(ctx context.Context, address, status string) error {
	switch status {
	case model.WalletStatusActive, model.WalletStatusRevoked, model.WalletStatusSuspended:
	default:
		return fmt.Errorf("wallet: invalid status %q", status)
	}
	return r.store.SetWalletStatus(ctx, Normalize(address), status)
}

// Count returns the total number of registered wallets.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.CountWallets(ctx)
}

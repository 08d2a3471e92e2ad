package wallet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

// SecretStore backs the custom-keypair public-key recovery path with
// HashiCorp Vault. It is consulted, not trusted blindly: the primary store
// (internal/storage) remains the system of record, and Vault only ever
// supplies a public key when the primary store's copy is missing, giving
// operators a way to recover a custom-keypair wallet's key material after a
// primary-store restore from an older snapshot.
type SecretStore struct {
	client *vaultapi.Client
	mount  string
	kvv2   bool
}

// NewSecretStore requires both addr and token; callers should treat a nil
// error as "Vault is reachable" and otherwise run without a secondary
// key-recovery path.
func NewSecretStore(addr, token string) (*SecretStore, error) {
	if addr == "" || token == "" {
		return nil, errors.New("vault required: set QV_VAULT_ADDR and QV_VAULT_TOKEN")
	}
	cfg := vaultapi.DefaultConfig()
	cfg.Address = addr
	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault: client: %w", err)
	}
	client.SetToken(token)
	return &SecretStore{client: client, mount: "secret", kvv2: true}, nil
}

// walletKeyPath is the KV path a custom-keypair wallet's public key is
// stored under, keyed by normalized address.
func walletKeyPath(normalizedAddress string) string {
	return fmt.Sprintf("wallet/%s/pubkey", normalizedAddress)
}

// PutWalletKey persists a custom-keypair wallet's public key to Vault.
// Best-effort from the caller's perspective: Vault is a recovery path, not
// the primary store, so a write failure here must never block registration.
func (v *SecretStore) PutWalletKey(normalizedAddress, publicKey string) error {
	return v.write(walletKeyPath(normalizedAddress), map[string]any{
		"publicKey": publicKey,
		"updatedAt": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetWalletKey looks up a custom-keypair wallet's public key in Vault. Used
// by Registry.Get to backfill a public key the primary store is missing.
func (v *SecretStore) GetWalletKey(normalizedAddress string) (string, bool, error) {
	data, err := v.read(walletKeyPath(normalizedAddress))
	if err != nil {
		return "", false, err
	}
	if data == nil {
		return "", false, nil
	}
	key, _ := data["publicKey"].(string)
	return key, key != "", nil
}

// write stores data under path, trying the KV-v2 layout first and falling
// back to KV-v1 once (and remembering the result) if that fails.
func (v *SecretStore) write(path string, data map[string]any) error {
	path = strings.TrimPrefix(path, "/")
	if v.kvv2 {
		_, err := v.client.Logical().Write(v.mount+"/data/"+path, map[string]any{"data": data})
		if err == nil {
			return nil
		}
		v.kvv2 = false
	}
	_, err := v.client.Logical().Write(v.mount+"/"+path, data)
	return err
}

// read mirrors write's KV-v2-then-v1 fallback for reads.
func (v *SecretStore) read(path string) (map[string]any, error) {
	path = strings.TrimPrefix(path, "/")
	if v.kvv2 {
		sec, err := v.client.Logical().Read(v.mount + "/data/" + path)
		if err == nil {
			if sec == nil {
				return nil, nil
			}
			if inner, ok := sec.Data["data"].(map[string]any); ok {
				return inner, nil
			}
			return nil, nil
		}
		v.kvv2 = false
	}
	sec, err := v.client.Logical().Read(v.mount + "/" + path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", path, err)
	}
	if sec == nil {
		return nil, nil
	}
	return sec.Data, nil
}

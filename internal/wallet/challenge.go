package wallet

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"clinicalledger/backend/internal/model"
)

// systemIdentifier is the first line of every challenge message.
const systemIdentifier = "ClinicalLedger Wallet Authentication"

// NewNonce mints a `CAMTC-<uuid-v4>` nonce value.
func NewNonce() string {
	return "CAMTC-" + uuid.NewString()
}

// ChallengeMessage renders the multi-line challenge text of spec §4.4.
func ChallengeMessage(address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"%s\nSign this message to authenticate\nWallet: %s\nNonce: %s\nTimestamp: %s",
		systemIdentifier, address, nonce, issuedAt.UTC().Format(time.RFC3339),
	)
}

// BuildNonceRecord constructs the NonceRecord persisted by IssueNonce,
// applying ttl (falling back to DefaultNonceTTL when ttl <= 0).
func BuildNonceRecord(address, family string, issuedAt time.Time, ttl time.Duration, context map[string]any) model.NonceRecord {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	nonce := NewNonce()
	normalized := Normalize(address)
	return model.NonceRecord{
		Address:           address,
		NormalizedAddress: normalized,
		Nonce:             nonce,
		Message:           ChallengeMessage(address, nonce, issuedAt),
		Family:            family,
		IssuedAt:          issuedAt,
		ExpiresAt:         issuedAt.Add(ttl),
		Context:           context,
	}
}

// DefaultNonceTTL is used when the caller does not configure one.
const DefaultNonceTTL = 300 * time.Second

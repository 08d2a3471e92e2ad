// Package model holds the domain types shared across the ledger core:
// transactions, priority breakdowns, mempool entries, audit entries, and
// wallet/reference records. Every subsystem package (contextengine,
// mempool, audit, wallet, storage, api) depends on this package; it
// depends on none of them.
package model

import "time"

// Payload is the decoded-JSON shape of a transaction's free-form data:
// string | float64 | bool | nil leaves, []any / map[string]any composites.
type Payload map[string]any

// Transaction is a signed clinical event admitted to the mempool.
type Transaction struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Tier      int       `json:"tier"`
	Priority  float64   `json:"priority"`
	Payload   Payload   `json:"payload"`
	Signature string    `json:"signature,omitempty"`
	Status    string    `json:"status"`
	BlockHash string    `json:"blockHash,omitempty"`
	ActorID   string    `json:"actorId,omitempty"`
	ActorType string    `json:"actorType,omitempty"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PatientID returns payload.patientId when present and a string.
func (t Transaction) PatientID() string {
	if v, ok := t.Payload["patientId"].(string); ok {
		return v
	}
	return ""
}

// Provider returns payload.provider when present and a string.
func (t Transaction) Provider() string {
	if v, ok := t.Payload["provider"].(string); ok {
		return v
	}
	return ""
}

// PriorityBreakdown is the Context Engine's scoring output.
type PriorityBreakdown struct {
	Criticality float64 `json:"criticality"`
	Sensitivity float64 `json:"sensitivity"`
	Resources   float64 `json:"resources"`
	Compliance  float64 `json:"compliance"`
	Priority    float64 `json:"priority"`
}

// MempoolEntry is a Transaction admitted into a tier, with the breakdown
// that produced its tier assignment.
type MempoolEntry struct {
	Transaction  Transaction       `json:"transaction"`
	Tier         int               `json:"tier"`
	Priority     float64           `json:"priority"`
	Breakdown    PriorityBreakdown `json:"breakdown"`
	AdmittedAt   time.Time         `json:"admittedAt"`
}

// MempoolSnapshot is the three tier-queues, persisted verbatim.
type MempoolSnapshot struct {
	Tier1 []MempoolEntry `json:"tier1"`
	Tier2 []MempoolEntry `json:"tier2"`
	Tier3 []MempoolEntry `json:"tier3"`
}

// Tier returns the snapshot's slice for the given tier (1-3), not a copy,
// or nil for any other n.
func (s MempoolSnapshot) Tier(n int) []MempoolEntry {
	switch n {
	case 1:
		return s.Tier1
	case 2:
		return s.Tier2
	case 3:
		return s.Tier3
	default:
		return nil
	}
}

// MempoolStats is current sizes, capacities, and validator counts.
type MempoolStats struct {
	Size1, Size2, Size3             int
	Capacity1, Capacity2, Capacity3 int
	ValidatorsOnline, ValidatorsTotal int
}

// TotalSize sums the three tiers' occupancy.
func (s MempoolStats) TotalSize() int { return s.Size1 + s.Size2 + s.Size3 }

// TotalCapacity sums the three tiers' fixed capacity.
func (s MempoolStats) TotalCapacity() int { return s.Capacity1 + s.Capacity2 + s.Capacity3 }

// AuditEntry is one tamper-evident, hash-chained audit record. Outcome is
// canonically one of "success", "failed", or "blocked"; any other
// non-empty value is operator-defined and is stored as given.
type AuditEntry struct {
	Sequence      int64          `json:"sequence"`
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Action        string         `json:"action"`
	ActorID       string         `json:"actorId"`
	ActorType     string         `json:"actorType"`
	Resource      string         `json:"resource"`
	Outcome       string         `json:"outcome"`
	PatientID     string         `json:"patientId,omitempty"`
	IPAddress     string         `json:"ipAddress,omitempty"`
	BlockHash     string         `json:"blockHash,omitempty"`
	Details       string         `json:"details,omitempty"`
	Metadata      map[string]any `json:"metadata"`
	Tags          []string       `json:"tags"`
	Channel       string         `json:"channel"`
	PrevHash      string         `json:"prevHash"`
	IntegrityHash string         `json:"integrityHash"`
}

// AuditFilter composes logical-AND query predicates over the audit log.
type AuditFilter struct {
	ActorID, ActorType, PatientID, Resource, Action, Outcome string
	From, To                                                 *time.Time
	Tags                                                     []string
	Search                                                   string
}

const (
	WalletFamilyExternalSigner = "external-signer"
	WalletFamilyCustomKeypair  = "custom-keypair"

	WalletStatusActive    = "active"
	WalletStatusRevoked   = "revoked"
	WalletStatusSuspended = "suspended"
)

// WalletProfile binds a normalized address to a role set and status.
type WalletProfile struct {
	ID               string         `json:"id"`
	Address          string         `json:"address"`
	NormalizedAddress string        `json:"normalizedAddress"`
	Family           string         `json:"family"`
	Label            string         `json:"label,omitempty"`
	PublicKey        string         `json:"publicKey,omitempty"`
	Metadata         map[string]any `json:"metadata"`
	Roles            []string       `json:"roles"`
	Status           string         `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	LastSeenAt       *time.Time     `json:"lastSeenAt,omitempty"`
}

// NonceRecord is a single-use, time-bounded wallet challenge.
type NonceRecord struct {
	Address           string         `json:"address"`
	NormalizedAddress string         `json:"normalizedAddress"`
	Nonce             string         `json:"nonce"`
	Message           string         `json:"message"`
	Family            string         `json:"family"`
	IssuedAt          time.Time      `json:"issuedAt"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	Context           map[string]any `json:"context,omitempty"`
}

// Provider, Patient, and Validator are the read-only reference directory.
type Provider struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type Patient struct {
	ID                string `json:"id"`
	FullName          string `json:"fullName"`
	DOB               string `json:"dob"`
	PrimaryProviderID string `json:"primaryProviderId"`
}

type Validator struct {
	ID             string    `json:"id"`
	Tier           int       `json:"tier"`
	Reputation     float64   `json:"reputation"`
	BlocksProposed int64     `json:"blocksProposed"`
	Uptime         float64   `json:"uptime"`
	LastSeen       time.Time `json:"lastSeen"`
}

// Package chain defines the minimal read-only surface this core consumes
// from the out-of-scope block-producing collaborator (spec §1 Non-goals:
// "does not build, gossip, or finalize blocks... consumes committed blocks
// read-only"). The shipped Provider stands in for that external system by
// deriving a snapshot from data this core already owns.
package chain

import (
	"context"
	"time"

	"clinicalledger/backend/internal/reference"
	"clinicalledger/backend/internal/storage"
)

// heartbeatWindow is how recently a validator must have been seen to count
// as online, in the absence of a real liveness feed from the chain layer.
const heartbeatWindow = 2 * time.Minute

// Snapshot is a point-in-time view of chain state as reported by the
// collaborator.
type Snapshot struct {
	Height            int64
	LatestBlockHash   string
	ValidatorsOnline  int
	ValidatorsTotal   int
	TotalBlocks       int64
}

// Provider is implemented by whatever supplies chain state; the real block
// producer is out of scope for this core, which only ever reads from it.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// ReferenceBackedProvider derives a Snapshot from the reference directory's
// validator rows and the audit log's sequence counter, standing in for the
// real chain layer until one is wired in.
type ReferenceBackedProvider struct {
	directory *reference.Directory
	store     storage.Store
}

// NewReferenceBackedProvider constructs a stub Provider.
func NewReferenceBackedProvider(directory *reference.Directory, store storage.Store) *ReferenceBackedProvider {
	return &ReferenceBackedProvider{directory: directory, store: store}
}

// Snapshot implements Provider.
func (p *ReferenceBackedProvider) Snapshot(ctx context.Context) (Snapshot, error) {
	validators, err := p.directory.Validators(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	now := time.Now().UTC()
	var online int
	var latestHash string
	var height int64
	for _, v := range validators {
		if !v.LastSeen.IsZero() && now.Sub(v.LastSeen) < heartbeatWindow {
			online++
		}
		if v.BlocksProposed > height {
			height = v.BlocksProposed
		}
	}

	tail, found, err := p.store.TailAuditEntry(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	var totalBlocks int64
	if found {
		totalBlocks = tail.Sequence
		latestHash = tail.BlockHash
	}

	return Snapshot{
		Height:           height,
		LatestBlockHash:  latestHash,
		ValidatorsOnline: online,
		ValidatorsTotal:  len(validators),
		TotalBlocks:      totalBlocks,
	}, nil
}

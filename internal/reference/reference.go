// Package reference loads the read-only provider/patient/validator
// directory used to populate response payloads. Grounded on the teacher's plain rows.Scan-into-slice
// pattern (internal/api/assets.go, internal/api/targets.go) generalized
// from asset/target rows to the ledger's reference directory.
package reference

import (
	"context"
	"fmt"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

// Directory is a read-only view over the reference tables (providers,
// patients, validators). It caches nothing: every call reads the store.
type Directory struct {
	store storage.Store
}

// New constructs a Directory backed by store.
func New(store storage.Store) *Directory {
	return &Directory{store: store}
}

// Providers returns the full provider list.
func (d *Directory) Providers(ctx context.Context) ([]model.Provider, error) {
	out, err := d.store.LoadProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference: load providers: %w", err)
	}
	return out, nil
}

// Patients returns the full patient list.
func (d *Directory) Patients(ctx context.Context) ([]model.Patient, error) {
	out, err := d.store.LoadPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference: load patients: %w", err)
	}
	return out, nil
}

// Validators returns the full validator list.
func (d *Directory) Validators(ctx context.Context) ([]model.Validator, error) {
	out, err := d.store.LoadValidators(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference: load validators: %w", err)
	}
	return out, nil
}

// Counts reports directory sizes, used by the health endpoint.
type Counts struct {
	Providers, Patients, Validators int
}

// LoadCounts fetches all three lists and reports their sizes; callers that
// only need counts still pay for a full scan, since the reference tables
// are small and read infrequently (startup, health checks).
func (d *Directory) LoadCounts(ctx context.Context) (Counts, error) {
	providers, err := d.Providers(ctx)
	if err != nil {
		return Counts{}, err
	}
	patients, err := d.Patients(ctx)
	if err != nil {
		return Counts{}, err
	}
	validators, err := d.Validators(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Providers: len(providers), Patients: len(patients), Validators: len(validators)}, nil
}

// ValidatorStats summarizes validator liveness for the Context Engine's
// resources score and for GET /health.
type ValidatorStats struct {
	Online, Total int
}

// LoadValidatorStats treats a validator as online when its uptime is at
// least 0.5; lastSeen is not consulted here (chain.ReferenceBackedProvider
// counts online validators by lastSeen instead).
func (d *Directory) LoadValidatorStats(ctx context.Context) (ValidatorStats, error) {
	validators, err := d.Validators(ctx)
	if err != nil {
		return ValidatorStats{}, err
	}
	stats := ValidatorStats{Total: len(validators)}
	for _, v := range validators {
		if v.Uptime >= 0.5 {
			stats.Online++
		}
	}
	return stats, nil
}

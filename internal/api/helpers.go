package api

import (
	"context"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
)

// zapError is a small convenience so handlers read "zapError(err)" instead
// of repeating the zap.Error field name everywhere.
func zapError(err error) zap.Field { return zap.Error(err) }

// mempoolStatsWithValidators reports current mempool occupancy joined with
// the reference directory's validator liveness, which the mempool itself
// has no notion of.
func (s *Server) mempoolStatsWithValidators(ctx context.Context) (model.MempoolStats, error) {
	stats := s.pool.Stats()
	if s.directory == nil {
		return stats, nil
	}
	vs, err := s.directory.LoadValidatorStats(ctx)
	if err != nil {
		return model.MempoolStats{}, err
	}
	stats.ValidatorsOnline = vs.Online
	stats.ValidatorsTotal = vs.Total
	return stats, nil
}

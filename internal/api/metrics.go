package api

import (
	"net/http"
	"sort"
	"time"

	"clinicalledger/backend/internal/audit"
	"clinicalledger/backend/internal/model"
)

// handleMetrics serves the dashboard's derived network metrics. Per spec
// §9 Open Questions, totalBlocks is an opaque integer from the chain
// collaborator; tpsTrend/currentTps are computed from the audit log's own
// timestamps (the only durable record of throughput this core owns) rather
// than fabricated, and networkLatency has no real source in this core so
// it is reported as 0 and documented here, not invented.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.chainProv.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	stats := s.pool.Stats()

	validators, err := s.directory.Validators(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	sort.SliceStable(validators, func(i, j int) bool {
		return validators[i].Reputation > validators[j].Reputation
	})
	scoreCount := len(validators)
	if scoreCount > 5 {
		scoreCount = 5
	}
	validatorScores := make([]float64, 0, scoreCount)
	for _, v := range validators[:scoreCount] {
		validatorScores = append(validatorScores, v.Reputation)
	}

	now := time.Now().UTC()
	since := now.Add(-24 * time.Hour)
	result, err := s.auditLog.Query(ctx, audit.QueryOptions{
		Filter:    model.AuditFilter{From: &since},
		Limit:     1000,
		Direction: "desc",
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	tpsTrend := make([]float64, 24)
	for _, e := range result.Entries {
		hoursAgo := int(now.Sub(e.Timestamp).Hours())
		bucket := 23 - hoursAgo
		if bucket < 0 || bucket > 23 {
			continue
		}
		tpsTrend[bucket] += 1.0 / 3600.0
	}
	currentTps := tpsTrend[23]

	writeData(w, http.StatusOK, map[string]any{
		"validatorsActive":        snap.ValidatorsOnline,
		"currentTps":              currentTps,
		"networkLatency":          0,
		"totalBlocks":             snap.TotalBlocks,
		"tpsTrend":                tpsTrend,
		"transactionDistribution": [3]int{stats.Size1, stats.Size2, stats.Size3},
		"validatorScores":         validatorScores,
	})
}

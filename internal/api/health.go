package api

import (
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	snap, err := s.chainProv.Snapshot(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	stats, err := s.mempoolStatsWithValidators(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	walletCount, err := s.store().CountWallets(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	counts, err := s.directory.LoadCounts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(s.startedAt).Seconds(),
		"chain":       snap,
		"mempool":     stats,
		"walletCount": walletCount,
		"directory":   counts,
		"version":     Version,
	})
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicalledger/backend/internal/audit"
	"clinicalledger/backend/internal/model"
)

// tierLabel renders a tier number as the "Tier-N" strings used on the wire.
func tierLabel(tier int) string {
	return fmt.Sprintf("Tier-%d", tier)
}

// tierFromLabel parses "Tier-1".."Tier-3" into {1,2,3}; any other value,
// including the empty string, means "no hint" (0).
func tierFromLabel(label string) int {
	switch label {
	case "Tier-1":
		return 1
	case "Tier-2":
		return 2
	case "Tier-3":
		return 3
	default:
		return 0
	}
}

func (s *Server) handleTransactionsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	patientID := q.Get("patientId")
	txType := q.Get("type")
	status := q.Get("status")
	priorityLabel := q.Get("priority")

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 1000 {
		limit = 1000
	}

	ctx := r.Context()
	txs, err := s.store().QueryTransactions(ctx, patientID, txType, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if priorityLabel != "" {
		filtered := txs[:0:0]
		for _, tx := range txs {
			if tierLabel(tx.Tier) == priorityLabel {
				filtered = append(filtered, tx)
			}
		}
		txs = filtered
	}

	stats, err := s.mempoolStatsWithValidators(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"snapshot":     s.pool.Snapshot(),
		"stats":        stats,
	})
}

type transactionCreateRequest struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	PatientID  string         `json:"patientId"`
	Provider   string         `json:"provider"`
	ProviderID string         `json:"providerId,omitempty"`
	Priority   string         `json:"priority"`
	Status     string         `json:"status,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	ActorID    string         `json:"actorId,omitempty"`
	ActorType  string         `json:"actorType,omitempty"`
	Details    string         `json:"details,omitempty"`
}

func (s *Server) handleTransactionsCreate(w http.ResponseWriter, r *http.Request) {
	var req transactionCreateRequest
	if err := readJSON(w, r, &req, 1<<20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required", nil)
		return
	}
	if req.Priority != "" && tierFromLabel(req.Priority) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed priority label %q", req.Priority), nil)
		return
	}

	payload := model.Payload{}
	for k, v := range req.Payload {
		payload[k] = v
	}
	if req.PatientID != "" {
		payload["patientId"] = req.PatientID
	}
	if req.Provider != "" {
		payload["provider"] = req.Provider
	}
	if req.ProviderID != "" {
		payload["providerId"] = req.ProviderID
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	status := req.Status
	if status == "" {
		status = "pending"
	}

	tx := model.Transaction{
		ID:        id,
		Type:      req.Type,
		Payload:   payload,
		Signature: req.Signature,
		Status:    status,
		ActorID:   req.ActorID,
		ActorType: req.ActorType,
		Details:   req.Details,
		CreatedAt: time.Now().UTC(),
	}

	ctx := r.Context()
	stats, err := s.mempoolStatsWithValidators(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	breakdown := s.engine.CalculatePriority(tx, &stats)
	tx.Priority = breakdown.Priority

	hint := tierFromLabel(req.Priority)
	result, err := s.pool.Add(ctx, tx, breakdown, hint)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	tx.Tier = result.Tier

	if err := s.store().UpsertTransaction(ctx, tx); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = "anonymous"
	}
	actorType := req.ActorType
	if actorType == "" {
		actorType = "system"
	}
	if _, err := s.auditLog.Record(ctx, audit.RecordInput{
		Action:    "submit_transaction",
		ActorID:   actorID,
		ActorType: actorType,
		Resource:  "transaction:" + tx.ID,
		Outcome:   "success",
		PatientID: tx.PatientID(),
		Details:   fmt.Sprintf("submitted %s at tier %d", tx.Type, tx.Tier),
		Metadata:  map[string]any{"priority": tx.Priority},
	}); err != nil {
		s.log.Error("audit record failed for transaction submission", zapError(err))
	}

	respData := map[string]any{
		"transaction": tx,
		"breakdown":   breakdown,
		"tier":        result.Tier,
	}
	if result.Evicted != nil {
		respData["evicted"] = result.Evicted
	}

	afterStats, err := s.mempoolStatsWithValidators(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": respData, "stats": afterStats})
}

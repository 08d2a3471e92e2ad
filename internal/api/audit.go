package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clinicalledger/backend/internal/audit"
	"clinicalledger/backend/internal/model"
)

func parseAuditFilter(q url.Values) model.AuditFilter {
	filter := model.AuditFilter{
		ActorID:   q.Get("actorId"),
		ActorType: q.Get("actorType"),
		PatientID: q.Get("patientId"),
		Resource:  q.Get("resource"),
		Action:    q.Get("action"),
		Outcome:   q.Get("outcome"),
		Search:    q.Get("search"),
	}
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = &t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = &t
		}
	}
	if raw := q.Get("tags"); raw != "" {
		filter.Tags = strings.Split(raw, ",")
	}
	return filter
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := parseAuditFilter(q)

	limit := 100
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := s.auditLog.Query(r.Context(), audit.QueryOptions{
		Filter:    filter,
		Limit:     limit,
		Cursor:    q.Get("cursor"),
		Direction: q.Get("direction"),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	data := map[string]any{
		"entries":      result.Entries,
		"totalMatches": result.TotalMatches,
		"hasMore":      result.HasMore,
	}
	if result.NextCursor != "" {
		data["nextCursor"] = result.NextCursor
	}
	if result.PreviousCursor != "" {
		data["previousCursor"] = result.PreviousCursor
	}
	writeData(w, http.StatusOK, data)
}

func (s *Server) handleAuditExportCSV(w http.ResponseWriter, r *http.Request) {
	filter := parseAuditFilter(r.URL.Query())
	csv, err := s.auditLog.ExportCsv(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

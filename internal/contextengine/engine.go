// Package contextengine scores incoming transactions on clinical
// criticality, temporal sensitivity, resource pressure, and regulatory
// compliance, producing the priority that drives mempool admission.
package contextengine

import (
	"fmt"
	"strings"

	"clinicalledger/backend/internal/model"
)

// keywordScore is one entry in an ordered keyword-to-score table. Scanning
// stops at the first match, so list order is the tie-break.
type keywordScore struct {
	keywords []string
	score    float64
}

var criticalityTable = []keywordScore{
	{[]string{"cardiac arrest"}, 0.95},
	{[]string{"stroke"}, 0.93},
	{[]string{"sepsis", "trauma"}, 0.90},
	{[]string{"prescription"}, 0.65},
	{[]string{"lab", "diagnostic"}, 0.50},
	{[]string{"routine", "checkup"}, 0.35},
}

const defaultCriticality = 0.40

var sensitivityTable = []keywordScore{
	{[]string{"stat"}, 0.95},
	{[]string{"urgent"}, 0.80},
	{[]string{"routine"}, 0.40},
}

const defaultSensitivity = 0.50

var complianceTable = []keywordScore{
	{[]string{"controlled substance"}, 0.50},
	{[]string{"prescription"}, 0.30},
}

const defaultCompliance = 0.10

// Engine is a pure scorer: calls never mutate, and the only external input
// is the mempool stats snapshot supplied by the caller per invocation.
type Engine struct{}

// New returns a ready-to-use Engine. Kept as a constructor, not a bare
// literal, so callers can later thread configuration through without
// breaking call sites.
func New() *Engine { return &Engine{} }

// CalculatePriority implements the Context Engine contract of spec §4.1.
// It never fails: a nil stats pointer falls back to resources=0.5.
func (e *Engine) CalculatePriority(tx model.Transaction, stats *model.MempoolStats) model.PriorityBreakdown {
	searchText := buildSearchText(tx)
	fullText := strings.ToLower(tx.Type) + " " + searchText
	payloadText := searchText

	crit := scanKeywords(fullText, criticalityTable, defaultCriticality)
	sens := scanKeywords(payloadText, sensitivityTable, defaultSensitivity)
	res := scoreResources(stats)
	comp := scanKeywords(payloadText, complianceTable, defaultCompliance)

	priority := clamp01(0.45*crit + 0.35*sens + 0.10*res + 0.10*comp)

	return model.PriorityBreakdown{
		Criticality: crit,
		Sensitivity: sens,
		Resources:   res,
		Compliance:  comp,
		Priority:    priority,
	}
}

// buildSearchText performs the depth-first traversal of the payload's
// string/number/boolean leaves, lower-cased and space-joined.
func buildSearchText(tx model.Transaction) string {
	var sb strings.Builder
	walkPayloadLeaves(tx.Payload, &sb)
	return strings.ToLower(strings.TrimSpace(sb.String()))
}

func walkPayloadLeaves(v any, sb *strings.Builder) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Map iteration order is not significant here: every leaf is
		// visited regardless of order, and keyword scanning is
		// order-independent within a single text blob.
		for _, k := range keys {
			walkPayloadLeaves(val[k], sb)
		}
	case model.Payload:
		walkPayloadLeaves(map[string]any(val), sb)
	case []any:
		for _, item := range val {
			walkPayloadLeaves(item, sb)
		}
	case string:
		sb.WriteString(val)
		sb.WriteByte(' ')
	case fmt.Stringer:
		sb.WriteString(val.String())
		sb.WriteByte(' ')
	case float64, float32, int, int32, int64, bool:
		fmt.Fprintf(sb, "%v ", val)
	case nil:
		// absent leaves contribute nothing
	}
}

func scanKeywords(text string, table []keywordScore, fallback float64) float64 {
	for _, entry := range table {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.score
			}
		}
	}
	return fallback
}

// scoreResources implements step 4: utilization/availability blended score,
// falling back to 0.5 when no stats snapshot is available.
func scoreResources(stats *model.MempoolStats) float64 {
	if stats == nil {
		return 0.5
	}
	totalCapacity := stats.TotalCapacity()
	var utilization float64
	if totalCapacity > 0 {
		utilization = float64(stats.TotalSize()) / float64(totalCapacity)
	}
	availability := 1.0
	if stats.ValidatorsTotal > 0 {
		availability = float64(stats.ValidatorsOnline) / float64(stats.ValidatorsTotal)
	}
	return clamp01(0.20 + 0.60*availability - 0.50*utilization)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

package audit

import "github.com/prometheus/client_golang/prometheus"

// entriesRecordedTotal counts successful appends to the audit chain,
// surfaced on GET /metrics/prom alongside the mempool's gauges.
var entriesRecordedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "clinicalledger_audit_entries_total",
	Help: "Total number of audit entries appended to the chain.",
})

func init() {
	prometheus.MustRegister(entriesRecordedTotal)
}

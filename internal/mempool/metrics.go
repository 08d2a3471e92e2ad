package mempool

import "github.com/prometheus/client_golang/prometheus"

// Gauges exported on GET /metrics/prom, grounded on the pack's
// promauto/prometheus.NewGaugeFunc registration style (see
// orbas1-Synnergy's core/system_health_logging.go HealthLogger). Registered
// against the default registerer so they ride the same promhttp.Handler
// the teacher wires in internal/api/server.go.
var (
	tier1Size = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "clinicalledger_mempool_tier1_size",
		Help: "Current occupancy of mempool tier 1.",
	}, func() float64 { return float64(currentTierSize(1)) })

	tier2Size = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "clinicalledger_mempool_tier2_size",
		Help: "Current occupancy of mempool tier 2.",
	}, func() float64 { return float64(currentTierSize(2)) })

	tier3Size = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "clinicalledger_mempool_tier3_size",
		Help: "Current occupancy of mempool tier 3.",
	}, func() float64 { return float64(currentTierSize(3)) })

	evictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clinicalledger_mempool_evictions_total",
		Help: "Total number of entries evicted for capacity.",
	})
)

// activePool backs the GaugeFunc callbacks above; set once by New since a
// process runs exactly one mempool. nil until then, in which case the
// gauges report zero.
var activePool *Pool

func currentTierSize(tier int) int {
	if activePool == nil {
		return 0
	}
	activePool.mu.Lock()
	defer activePool.mu.Unlock()
	return len(activePool.tierSliceLocked(tier))
}

func init() {
	prometheus.MustRegister(tier1Size, tier2Size, tier3Size, evictionsTotal)
}

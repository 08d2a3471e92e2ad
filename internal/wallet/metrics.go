package wallet

import "github.com/prometheus/client_golang/prometheus"

// verifyOutcomesTotal tallies wallet verification attempts by outcome
// (success, signature_invalid, no_active_nonce, nonce_expired, unknown_wallet).
var verifyOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "clinicalledger_wallet_verify_outcomes_total",
	Help: "Wallet verification attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(verifyOutcomesTotal)
}

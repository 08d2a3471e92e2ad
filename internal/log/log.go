// Package log constructs the zap.Logger used throughout the ledger core,
// switching between development and production encoders the same way the
// teacher's cmd/api/main.go selects a logger off cfg.Env.
package log

import "go.uber.org/zap"

// New builds a *zap.Logger for the given environment ("dev" uses a
// console encoder with debug level; anything else uses the production
// JSON encoder).
func New(env string) (*zap.Logger, error) {
	if env == "dev" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Package api wires the HTTP surface of spec.md §6 over the four core
// subsystems (Context Engine, Tiered Mempool, Audit Log, Wallet Auth).
// Grounded on the teacher's internal/api/server.go: same router, same
// middleware chain shape, same promhttp wiring — generalized from the
// teacher's JWT-gated asset-inventory routes to this system's
// wallet-authenticated ledger routes (which, per spec §4.4, never gate on
// a bearer token: session tokens are opaque correlation handles for an
// external session layer, not an authorization mechanism here).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"clinicalledger/backend/internal/audit"
	"clinicalledger/backend/internal/chain"
	"clinicalledger/backend/internal/config"
	"clinicalledger/backend/internal/contextengine"
	"clinicalledger/backend/internal/mempool"
	"clinicalledger/backend/internal/reference"
	"clinicalledger/backend/internal/storage"
	"clinicalledger/backend/internal/wallet"
)

// Version is the build's reported version string, surfaced on GET /health.
const Version = "0.1.0"

// Server composes the subsystems into request handlers. Per spec §9
// "Cyclic references between modules", it holds references to all four
// subsystems; none of them references it back.
type Server struct {
	cfg config.Config
	log *zap.Logger

	engine    *contextengine.Engine
	pool      *mempool.Pool
	auditLog  *audit.Log
	wallets   *wallet.Service
	registry  *wallet.Registry
	directory *reference.Directory
	chainProv chain.Provider
	db        storage.Store

	startedAt  time.Time
	httpServer *http.Server
}

// New constructs a Server over already-initialized subsystems.
func New(
	cfg config.Config,
	logger *zap.Logger,
	engine *contextengine.Engine,
	pool *mempool.Pool,
	auditLog *audit.Log,
	wallets *wallet.Service,
	registry *wallet.Registry,
	directory *reference.Directory,
	chainProv chain.Provider,
	db storage.Store,
) *Server {
	return &Server{
		cfg: cfg, log: logger,
		engine: engine, pool: pool, auditLog: auditLog,
		wallets: wallets, registry: registry, directory: directory, chainProv: chainProv,
		db:        db,
		startedAt: time.Now().UTC(),
	}
}

// store returns the durable backend transactions are persisted to,
// independent of the in-memory mempool.
func (s *Server) store() storage.Store { return s.db }

// Router builds the chi.Router serving the HTTP contract of spec §6.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID())
	r.Use(Recoverer(s.log))
	r.Use(AccessLog(s.log))

	if s.cfg.CORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{s.cfg.CORSOrigin},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	prefix := s.cfg.APIPrefix
	if prefix == "" {
		prefix = "/api"
	}

	r.Route(prefix, func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/metrics", s.handleMetrics)
		api.Handle("/metrics/prom", promhttp.Handler())

		api.Route("/reference", func(ref chi.Router) {
			ref.Get("/providers", s.handleReferenceProviders)
			ref.Get("/patients", s.handleReferencePatients)
			ref.Get("/validators", s.handleReferenceValidators)
		})

		api.Route("/transactions", func(tx chi.Router) {
			tx.Get("/", s.handleTransactionsList)
			tx.Post("/", s.handleTransactionsCreate)
		})

		api.Route("/audit", func(a chi.Router) {
			a.Get("/", s.handleAuditList)
			a.Get("/export.csv", s.handleAuditExportCSV)
		})

		api.Route("/wallet", func(wa chi.Router) {
			wa.Post("/challenge", s.handleWalletChallenge)
			wa.Post("/verify", s.handleWalletVerify)
		})
	})

	return r
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       12 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("http server starting", zap.String("addr", s.cfg.Addr()))
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(ctxShutdown)
	}()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"clinicalledger/backend/internal/api"
	"clinicalledger/backend/internal/audit"
	"clinicalledger/backend/internal/chain"
	"clinicalledger/backend/internal/config"
	"clinicalledger/backend/internal/contextengine"
	"clinicalledger/backend/internal/db"
	"clinicalledger/backend/internal/log"
	"clinicalledger/backend/internal/mempool"
	"clinicalledger/backend/internal/reference"
	"clinicalledger/backend/internal/storage"
	"clinicalledger/backend/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := log.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	var vaultStore *wallet.SecretStore
	if cfg.VaultAddr != "" && cfg.VaultToken != "" {
		vaultStore, err = wallet.NewSecretStore(cfg.VaultAddr, cfg.VaultToken)
		if err != nil {
			logger.Warn("vault init failed, continuing without it", zap.Error(err))
			vaultStore = nil
		}
	}

	engine := contextengine.New()

	pool := mempool.New(logger, store)
	if err := pool.Load(ctx); err != nil {
		logger.Fatal("mempool rehydration failed", zap.Error(err))
	}

	auditLog := audit.New(logger, store)
	if err := auditLog.Rehydrate(ctx); err != nil {
		logger.Fatal("audit log rehydration failed", zap.Error(err))
	}

	registry := wallet.NewRegistry(store, vaultStore)
	wallets := wallet.New(logger, store, registry, cfg.WalletNonceTTL())

	if cfg.DemoExternalSignerAddress != "" {
		if err := bootstrapDemoWallet(ctx, registry, cfg.DemoExternalSignerAddress); err != nil {
			logger.Warn("demo wallet bootstrap failed", zap.Error(err))
		}
	}

	directory := reference.New(store)
	chainProv := chain.NewReferenceBackedProvider(directory, store)

	srv := api.New(cfg, logger, engine, pool, auditLog, wallets, registry, directory, chainProv, store)

	go runBackgroundSweeps(ctx, logger, cfg, auditLog, wallets)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		<-time.After(250 * time.Millisecond)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}
}

// openStore selects the durable backend per config.Load's mutual-exclusion
// validation: exactly one of DATABASE_URL or DATA_ROOT is set.
func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, database.Pool, "migrations"); err != nil {
			database.Close()
			return nil, err
		}
		return storage.NewPostgresStore(database), nil
	}
	return storage.NewFileStore(cfg.DataRoot)
}

// bootstrapDemoWallet pre-registers a convenience external-signer wallet
// for local demo environments; harmless if it already exists since
// Register is idempotent by normalized address.
func bootstrapDemoWallet(ctx context.Context, registry *wallet.Registry, address string) error {
	_, err := registry.Register(ctx, wallet.RegisterInput{
		Address: address,
		Family:  "external-signer",
		Label:   "demo",
	})
	return err
}

// runBackgroundSweeps runs the best-effort periodic maintenance described
// in spec §4.3/§4.4: nonce expiry, audit retention pruning, and audit log
// rotation. Failures are logged and never interrupt the server.
func runBackgroundSweeps(ctx context.Context, logger *zap.Logger, cfg config.Config, auditLog *audit.Log, wallets *wallet.Service) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := wallets.SweepExpiredNonces(ctx); err != nil {
				logger.Warn("nonce sweep failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("swept expired nonces", zap.Int("count", n))
			}

			if cfg.AuditRetentionDays > 0 {
				if _, err := auditLog.PruneRetention(ctx, time.Duration(cfg.AuditRetentionDays)*24*time.Hour); err != nil {
					logger.Warn("audit retention prune failed", zap.Error(err))
				}
			}

			if cfg.AuditLogMaxBytes > 0 {
				auditLog.RotateIfOversize(ctx, cfg.AuditLogMaxBytes)
			}
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baharkarakas/paygate/internal/api"
	"github.com/baharkarakas/paygate/internal/auth"
	"github.com/baharkarakas/paygate/internal/config"
	"github.com/baharkarakas/paygate/internal/db"
	"github.com/baharkarakas/paygate/internal/downstream"
	"github.com/baharkarakas/paygate/internal/ecpay"
	"github.com/baharkarakas/paygate/internal/logger"
	"github.com/baharkarakas/paygate/internal/metrics"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/baharkarakas/paygate/internal/repository/memory"
	"github.com/baharkarakas/paygate/internal/repository/postgres"
	"github.com/baharkarakas/paygate/internal/services"
	"github.com/baharkarakas/paygate/internal/vault"
	"github.com/baharkarakas/paygate/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Error("encryption key", "err", err)
		os.Exit(1)
	}

	var repos repo.Set
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		repos = memory.New().Set()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, int32(cfg.DBMaxConns))
		if err != nil {
			log.Error("db connect", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.Migrate {
			if err := db.RunMigrations(ctx, pool, log); err != nil {
				log.Error("migrations", "err", err)
				os.Exit(1)
			}
		}
		repos = postgres.NewRepositories(pool)
	}

	metrics.Init()

	processor := ecpay.NewClient(cfg.Processor, cfg.OutboundTimeout)
	settler := services.NewSettler(repos, downstream.New(cfg.Commerce, cfg.OutboundTimeout), cfg.OutboundTimeout, log)
	wp := worker.NewPool[services.SettlementIntent](cfg.WorkerCount, cfg.WorkerQueue, settler.Handle)

	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Log:       log,
		Tokens:    auth.NewTokenManager(cfg.JWTAccessSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL),
		Merchants: services.NewMerchantService(repos, v, processor, log),
		Payments:  services.NewPaymentService(repos, v, processor, cfg.GatewayURL, wp, log),
		Logistics: services.NewLogisticsService(repos, v, processor, cfg.GatewayURL, log),
		Settler:   settler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if cfg.AdminAPIKey == "" {
		log.Warn("ADMIN_API_KEY not set, admin endpoints are disabled")
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	// drain settlement intents accepted before shutdown
	wp.Stop()
}

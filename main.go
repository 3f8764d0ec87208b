package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotrade-core/internal/api"
	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/order"
	"autotrade-core/internal/reconciliation"
	"autotrade-core/internal/scheduler"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/cache"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/exchanges/paper"
	"autotrade-core/pkg/exchanges/upbit"
	"autotrade-core/pkg/logger"
)

const cacheSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := logger.Init(cfg.LogLevel); err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()
	logger.Infof("config loaded, port=%s db=%s dry_run=%v", cfg.Port, cfg.DBPath, cfg.DryRun)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logger.Fatalf("apply migrations: %v", err)
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		logger.Fatalf("init sealer: %v", err)
	}

	presets, err := strategy.LoadPresets(cfg.StrategyPresetsPath)
	if err != nil {
		logger.Fatalf("load strategy presets: %v", err)
	}
	evaluator := strategy.NewEvaluator(presets)

	var gw common.Gateway = upbit.New(upbit.Config{BaseURL: cfg.UpbitBaseURL})
	venue := "upbit"
	if cfg.DryRun {
		gw = paper.New(gw, paper.Config{
			InitialBalance: cfg.DryRunInitialBalance,
			FeeRate:        cfg.DefaultFeeRate,
		})
		venue = "paper"
		logger.Warnf("DRY_RUN enabled, orders fill against paper accounts with %.0f KRW", cfg.DryRunInitialBalance)
	}
	cached := cache.Wrap(gw, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	mon := &monitor.Monitor{
		Bus:     bus,
		AlertFn: func(msg string) { logger.Warnf("alert: %s", msg) },
	}
	go mon.Start(ctx)
	go sweepCache(ctx, cached)

	executor := order.NewExecutor(database, cached, bus, metrics)
	sched := scheduler.New(scheduler.Config{
		DB:          database,
		Sealer:      sealer,
		Gateway:     cached,
		Evaluator:   evaluator,
		Executor:    executor,
		Bus:         bus,
		Metrics:     metrics,
		Interval:    cfg.TickInterval,
		UserTimeout: cfg.UserTimeout,
	})
	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		logger.Infof("scheduler started, interval=%s", cfg.TickInterval)
	} else {
		logger.Warnf("scheduler disabled, only manual trades will run")
	}

	if cfg.ReconcileInterval > 0 {
		reconciliation.NewService(database, sealer, cached, cfg.ReconcileInterval).Start(ctx)
	}

	engSvc := engine.NewImpl(engine.Config{
		DB:        database,
		Sealer:    sealer,
		Gateway:   cached,
		Evaluator: evaluator,
		Executor:  executor,
		Meta: engine.SystemStatus{
			DryRun:           cfg.DryRun,
			Venue:            venue,
			SchedulerEnabled: cfg.SchedulerEnabled,
			TickInterval:     cfg.TickInterval.String(),
			Version:          os.Getenv("APP_VERSION"),
		},
	})

	server := api.NewServer(engSvc, bus, metrics, cfg.JWTSecret)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("api listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Infof("shutting down")

	sched.Stop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("api shutdown: %v", err)
	}
}

// newSealer reads the master keys. Dry-run falls back to an ephemeral key,
// so stored credentials do not survive a restart.
func newSealer(cfg *config.Config) (*crypto.Sealer, error) {
	sealer, err := crypto.FromEnv(os.Getenv)
	if err == nil || !cfg.DryRun || cfg.MasterEncryptionKey != "" {
		return sealer, err
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warnf("MASTER_ENCRYPTION_KEY not set, using an ephemeral key")
	return crypto.NewSealer(map[int][]byte{1: key})
}

func sweepCache(ctx context.Context, c *cache.Gateway) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				logger.Debugf("cache sweep removed %d entries", n)
			}
		}
	}
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"oppscout-engine/internal/config"
	"oppscout-engine/internal/driver"
	"oppscout-engine/internal/events"
	"oppscout-engine/internal/httpapi"
	"oppscout-engine/internal/match"
	"oppscout-engine/internal/pipeline"
	"oppscout-engine/internal/report"
	"oppscout-engine/internal/scheduler"
	"oppscout-engine/internal/scrape/types"
	"oppscout-engine/internal/scrape/util"
	"oppscout-engine/internal/secrets"
	"oppscout-engine/internal/store"

	"oppscout-engine/internal/scrape"
)

func main() {
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	dataDir := os.Getenv("OPPSCOUT_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Fatal("create data dir", zap.Error(err))
	}

	// One engine per data dir.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		logger.Fatal("acquire data dir lock", zap.Error(err))
	}
	if !locked {
		logger.Fatal("another engine instance is already using this data dir",
			zap.String("data_dir", dataDir))
	}
	defer func() { _ = lock.Unlock() }()

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		logger.Fatal("config bootstrap failed", zap.Error(err))
	}

	var cfgVal atomic.Value // stores config.Config
	loadCfg := func() (config.Config, error) {
		raw, err := config.Load(userCfgPath)
		if err != nil {
			return config.Config{}, err
		}
		normalized, vr := config.NormalizeAndValidate(raw)
		for _, warn := range vr.Warnings {
			logger.Warn("config warning", zap.String("warning", warn))
		}
		if !vr.OK() {
			return config.Config{}, fmt.Errorf("config invalid: %v", vr.Errors)
		}
		return normalized, nil
	}
	cfg, err := loadCfg()
	if err != nil {
		logger.Fatal("config load failed", zap.String("path", userCfgPath), zap.Error(err))
	}
	cfgVal.Store(cfg)

	dbPath := filepath.Join(dataDir, "oppscout.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal("open database", zap.String("path", dbPath), zap.Error(err))
	}
	defer db.Close()
	if err := store.Migrate(db.Pool); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	env := types.Env{
		UserAgent: cfg.Pipeline.UserAgent,
		Limiter:   util.NewHostLimiter(cfg.Pipeline.HostRatePerSec, cfg.Pipeline.HostBurst),
		APIKey:    secrets.GetAPIKey,
	}
	if err := scrape.ValidateSources(cfg.Sources, env); err != nil {
		logger.Fatal("source config invalid", zap.Error(err))
	}

	pool := driver.NewPool(cfg.Pipeline.DriverSessions, cfg.Pipeline.UserAgent, logger)
	defer pool.Close()

	hub := events.NewHub()
	registry := pipeline.NewRegistry(hub, time.Duration(cfg.Pipeline.JobExpiryHours)*time.Hour)
	executor := pipeline.NewExecutor(pool, time.Duration(cfg.Pipeline.AdapterTimeoutSeconds)*time.Second, logger)

	downloadDir := filepath.Join(dataDir, "downloads")
	runner := &pipeline.Runner{
		Config:   func() config.Config { return cfgVal.Load().(config.Config) },
		Env:      env,
		Registry: registry,
		Executor: executor,
		DB:       db,
		Reports:  report.NewCSVWriter(downloadDir),
		Scorer:   buildScorer(cfg, logger),
		Log:      logger,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go scheduler.Every(rootCtx, time.Hour, "job-sweep", registry.Sweep)
	go scheduler.Every(rootCtx, 24*time.Hour, "store-cleanup", func(ctx context.Context) error {
		return cleanupStore(db, downloadDir, logger)
	})

	mux := httpapi.NewMux(httpapi.Deps{
		DB:          db.Pool,
		Hub:         hub,
		CfgVal:      &cfgVal,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		Registry:    registry,
		StartRun: func(jobID string) {
			go runner.Run(rootCtx, jobID)
		},
		DownloadDir: downloadDir,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", addr), zap.Error(err))
	}

	srv := &http.Server{
		Handler: httpapi.Chain(mux,
			httpapi.RequestID,
			httpapi.Recover,
			httpapi.AccessLog,
			httpapi.Cors,
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	token, err := randomToken(16)
	if err != nil {
		logger.Fatal("generate shutdown token", zap.Error(err))
	}
	mux.HandleFunc("/shutdown", shutdownHandler(&token, srv))
	if err := os.WriteFile(filepath.Join(dataDir, "shutdown.token"), []byte(token), 0o600); err != nil {
		logger.Warn("write shutdown token file", zap.Error(err))
	}

	logger.Info("engine listening",
		zap.String("addr", "http://"+addr),
		zap.String("db", dbPath),
		zap.Int("sources", len(cfg.Sources)))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-rootCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}
}

func newLogger() *zap.Logger {
	var logger *zap.Logger
	var err error
	if os.Getenv("OPPSCOUT_DEBUG") != "" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

// buildScorer wires the Gemini matchmaker, or returns nil so runs
// complete without scoring when matchmaking is off or the key is absent.
func buildScorer(cfg config.Config, logger *zap.Logger) pipeline.MatchScorer {
	if !cfg.Matchmaking.Enabled {
		return nil
	}
	key, err := secrets.GetAPIKey(secrets.KeyGemini)
	if err != nil || key == "" {
		logger.Warn("gemini api key unavailable, matchmaking disabled", zap.Error(err))
		return nil
	}
	gen, err := match.NewGenerator(context.Background(), key, cfg.Matchmaking.Model)
	if err != nil {
		logger.Warn("gemini client init failed, matchmaking disabled", zap.Error(err))
		return nil
	}
	return match.NewScorer(gen, domainProfile(cfg), match.Options{
		MinScore:  cfg.Matchmaking.MinScore,
		BatchSize: cfg.Matchmaking.BatchSize,
		Timeout:   time.Duration(cfg.Matchmaking.TimeoutSeconds) * time.Second,
	}, logger)
}

func cleanupStore(db *store.DB, downloadDir string, logger *zap.Logger) error {
	if n, err := store.CleanupOldSeen(db.Pool); err != nil {
		return err
	} else if n > 0 {
		logger.Info("pruned seen history", zap.Int64("deleted", n))
	}

	removed, err := store.CleanupOldReports(db.Pool)
	if err != nil {
		return err
	}
	for _, filename := range removed {
		if err := os.Remove(filepath.Join(downloadDir, filename)); err != nil && !os.IsNotExist(err) {
			logger.Warn("remove expired report", zap.String("file", filename), zap.Error(err))
		}
	}
	if len(removed) > 0 {
		logger.Info("pruned old reports", zap.Int("removed", len(removed)))
	}
	return nil
}

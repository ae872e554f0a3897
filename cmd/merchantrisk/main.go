package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"merchantrisk/internal/alerts"
	"merchantrisk/internal/api"
	"merchantrisk/internal/cache"
	"merchantrisk/internal/config"
	"merchantrisk/internal/engine"
	"merchantrisk/internal/ingest"
	"merchantrisk/internal/logging"
	"merchantrisk/internal/metrics"
	"merchantrisk/internal/model"
	"merchantrisk/internal/publish"
	"merchantrisk/internal/storage"
	"merchantrisk/internal/telemetry"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "Path to YAML or JSON config (defaults when empty)")
	envPath := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("env file not loaded", "path", *envPath, "err", err)
	}

	mgr, err := loadConfig(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	cfg := mgr.Get()

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Storage ──────────────────────────────────────────────────────────────
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			logger.Error("failed to initialise storage", "driver", cfg.Storage.Driver, "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage ready", "driver", cfg.Storage.Driver)
	} else {
		logger.Warn("storage disabled, risk calculations unavailable")
	}

	// ── Engine ───────────────────────────────────────────────────────────────
	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)

	opts := []engine.Option{}
	if cfg.Cache.Enabled {
		rc := cache.NewRedisCache(cache.NewRedisClient(cfg.Cache), cfg.Cache.TTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			logger.Warn("redis unavailable, cache disabled", "addr", cfg.Cache.Addr, "err", err)
			_ = rc.Close()
		} else {
			opts = append(opts, engine.WithCache(rc))
			defer rc.Close()
			logger.Info("redis cache enabled", "addr", cfg.Cache.Addr)
		}
		cancel()
	}
	publisher := publish.New(cfg.Timeline.Publish)
	defer publisher.Close()
	opts = append(opts, engine.WithPublisher(publisher))

	eng := engine.NewEngine(cfg, logger, metricsStore, alertsStore, store, opts...)

	// ── Hot reload ───────────────────────────────────────────────────────────
	mgr.OnChange(func(next *config.Config) {
		eng.UpdateConfig(next)
		logger.Info("config reloaded", "path", mgr.Path())
	})
	if mgr.Path() != "" {
		go func() {
			onError := func(err error) { logger.Warn("config reload failed", "err", err) }
			if err := mgr.Watch(onError, ctx.Done()); err != nil {
				logger.Warn("config watcher unavailable (hot reload disabled)", "err", err)
			}
		}()
	}

	// ── Ingest ───────────────────────────────────────────────────────────────
	in := make(chan model.IngestedTransaction, cfg.Ingest.ChannelBuffer)
	ingest.StartKafka(ctx, mgr, ingest.NewParser(), in, logger)
	ingest.StartFileTail(ctx, mgr, in, logger)
	eng.Start(ctx, in)

	var db *sql.DB
	if pooled, ok := store.(interface{ DB() *sql.DB }); ok {
		db = pooled.DB()
	}
	go telemetry.StartCollector(ctx, db, 15*time.Second)

	// ── HTTP ─────────────────────────────────────────────────────────────────
	srv := api.NewServer(mgr, eng, store, metricsStore, alertsStore, ingest.NewRESTHandler(mgr, in, logger), logger, version)
	httpServer := api.Start(ctx, srv)

	logger.Info("merchantrisk started", "version", version)
	<-ctx.Done()
	logger.Info("shutting down")
	if httpServer != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutCtx)
	}
}

func loadConfig(path string) (*config.Manager, error) {
	var mgr *config.Manager
	if path == "" {
		mgr = config.NewStaticManager(config.DefaultConfig())
	} else {
		m, err := config.NewManager(config.ResolvePath(path))
		if err != nil {
			return nil, err
		}
		mgr = m
	}
	if err := mgr.WithEnv(config.ApplyEnv); err != nil {
		return nil, err
	}
	return mgr, nil
}

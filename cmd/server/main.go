package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/syncclock/timingsvc/internal/audit"
	"github.com/syncclock/timingsvc/internal/config"
	"github.com/syncclock/timingsvc/internal/coordination"
	"github.com/syncclock/timingsvc/internal/engine"
	"github.com/syncclock/timingsvc/internal/httpapi"
	"github.com/syncclock/timingsvc/internal/logging"
	"github.com/syncclock/timingsvc/internal/metrics"
	"github.com/syncclock/timingsvc/internal/store"
	"github.com/syncclock/timingsvc/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ~/.config/syncclock/config.yaml)")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	redisOpts, err := redis.ParseURL(cfg.Store.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis_url", zap.Error(err))
	}
	redisOpts.PoolSize = cfg.Store.PoolSize
	redisOpts.DialTimeout = cfg.Store.DialTimeout
	redisClient := redis.NewClient(redisOpts)

	primaryStore := store.NewRedisStore(redisClient, 0)

	db, err := sqlx.Connect("postgres", cfg.Audit.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to audit database", zap.Error(err))
	}
	defer db.Close()

	auditQueue := audit.NewPostgresQueue(db, audit.Config{
		Workers:        cfg.Audit.Workers,
		HighWaterMark:  cfg.Audit.HighWaterMark,
		QueueCapacity:  cfg.Audit.QueueCapacity,
		RetentionCount: cfg.Audit.RetentionCount,
		RetentionTTL:   cfg.Audit.RetentionTTL,
	}, logger)

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	clock := engine.SystemClock{}
	eng := engine.New(primaryStore, auditQueue, clock, logger, collector)

	hub := ws.NewHub(eng, logger, collector)
	plane := coordination.New(primaryStore, hub, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := plane.Start(ctx); err != nil {
		logger.Fatal("failed to start coordination plane", zap.Error(err))
	}

	wsServer := ws.NewServer(hub, logger, cfg.Server.AllowedOrigins)
	handler := httpapi.NewHandler(eng, clock, logger)
	router := httpapi.NewRouter(handler, metrics.Handler(reg), wsServer.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown of HTTP listener timed out", zap.Error(err))
		os.Exit(1)
	}

	hub.Shutdown()

	if err := auditQueue.Close(shutdownCtx); err != nil {
		logger.Error("audit queue did not drain before shutdown deadline", zap.Error(err))
		os.Exit(1)
	}

	if err := redisClient.Close(); err != nil {
		logger.Warn("error closing redis client", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"devicegw/internal/auth"
	"devicegw/internal/command"
	"devicegw/internal/config"
	"devicegw/internal/device"
	"devicegw/internal/gateway"
	"devicegw/internal/httpmiddleware"
	"devicegw/internal/ingest"
	"devicegw/internal/logging"
	"devicegw/internal/manage"
	"devicegw/internal/metrics"
	"devicegw/internal/notify"
	"devicegw/internal/roster"
	"devicegw/internal/store"
	"devicegw/internal/syncengine"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "devicegw-gateway")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	var (
		deviceStore device.Store
		cmdStore    command.Store
		stateStore  syncengine.StateStore
		rosterStore roster.Store
		logStore    ingest.LogStore
		publisher   notify.Publisher
		redisClient *store.Redis
		db          *store.DB
	)

	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory stores, data will not survive a restart")
		deviceStore = device.NewMemoryStore()
		cmdStore = command.NewMemoryStore()
		stateStore = syncengine.NewMemoryStateStore()
		rosterStore = roster.NewMemoryStore()
		logStore = ingest.NewMemoryLogStore()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		deviceStore = device.NewPostgresStore(db.Client)
		cmdStore = command.NewPostgresStore(db.Client)
		stateStore = syncengine.NewPostgresStateStore(db.Client)
		rosterStore = roster.NewPostgresStore(db.Client)
		logStore = ingest.NewPostgresLogStore(db.Client)
	}

	if cfg.NotifyBackend == "memory" {
		publisher = notify.NewInMemory(256)
	} else {
		redisClient = store.NewRedis(cfg.RedisAddr)
		publisher = notify.NewRedisPublisher(redisClient.Client, cfg.NotifyQueue)
	}

	registry := device.NewRegistry(deviceStore, cfg.OnlineWindow, cfg.DelayedWindow, logger)
	queue := command.NewQueue(cmdStore, stateStore, cfg.MaxAttempts, logger)
	pipeline := ingest.NewPipeline(logStore, stateStore, rosterStore, publisher, logger)
	engine := syncengine.New(registry, queue, rosterStore, stateStore, logger)

	gwMetrics := metrics.NewGateway(prometheus.DefaultRegisterer)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics", "/iclock/getrequest"},
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"db": dbHealthy, "redis": redisHealthy})
	})

	// Terminals poll these; plain text, no JWT, no rate limit.
	gateway.NewHandler(registry, queue, pipeline, gwMetrics, logger).Register(r)

	// Admin domain consumes these.
	mgmt := r.Group("/v1",
		auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer),
		httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware(),
	)
	manage.NewHandler(registry, engine, gwMetrics, logger).Register(mgmt)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forced shutdown", zap.Error(err))
	}
	logger.Info("gateway exited")
	return nil
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"devicegw/internal/command"
	"devicegw/internal/config"
	"devicegw/internal/device"
	"devicegw/internal/logging"
	"devicegw/internal/store"
	"devicegw/internal/syncengine"
)

// Worker runs the scheduled jobs: the command timeout sweep, where SENT
// commands whose acknowledgement never arrived go back to PENDING or to
// FAILED once the attempt budget is spent, and an offline-device report.
func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "devicegw-worker")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	states := syncengine.NewPostgresStateStore(db.Client)
	queue := command.NewQueue(command.NewPostgresStore(db.Client), states, cfg.MaxAttempts, logger)
	registry := device.NewRegistry(device.NewPostgresStore(db.Client), cfg.OnlineWindow, cfg.DelayedWindow, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	_, err = c.AddFunc(cfg.SweepSchedule, func() {
		requeued, failed, err := queue.SweepExpired(ctx, cfg.RetryWindow)
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			return
		}
		if requeued > 0 || failed > 0 {
			logger.Info("sweep complete", zap.Int("requeued", requeued), zap.Int("failed", failed))
		}
	})
	if err != nil {
		logger.Fatal("invalid sweep schedule", zap.String("schedule", cfg.SweepSchedule), zap.Error(err))
	}
	_, err = c.AddFunc(cfg.OfflineReportSchedule, func() {
		offline, err := registry.OfflineDevices(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("offline report failed", zap.Error(err))
			return
		}
		for _, d := range offline {
			logger.Warn("device offline",
				zap.String("serial", d.Serial), zap.String("school", d.SchoolID),
				zap.Timep("last_seen", d.LastSeenAt))
		}
	})
	if err != nil {
		logger.Fatal("invalid offline report schedule",
			zap.String("schedule", cfg.OfflineReportSchedule), zap.Error(err))
	}

	c.Start()
	logger.Info("worker started", zap.String("schedule", cfg.SweepSchedule))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	cancel()
	<-c.Stop().Done()
	logger.Info("worker stopped")
}

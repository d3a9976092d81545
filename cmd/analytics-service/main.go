package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"material-exchange/internal/config"
	"material-exchange/internal/infrastructure/mysql"
	"material-exchange/internal/infrastructure/redis"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"
	"material-exchange/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithOptions(logger.Options{
		Level:      cfg.Log.Level,
		Output:     cfg.Log.Output,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}).With("service", "analytics-service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := utils.InitializeRedis(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	db, err := utils.InitializeMysql(ctx, cfg)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := mysql.Migrate(ctx, db); err != nil {
		log.Error("Failed to apply schema", "error", err)
		os.Exit(1)
	}

	recorder := services.NewAnalyticsRecorder(mysql.NewMySQLBidEventRepository(db), log)
	subscriber := redis.NewRedisEventSubscriber(rdb, log)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go func() {
		if err := recorder.Start(runCtx, subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("Analytics recorder failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down analytics service...")
	stopRun()
	log.Info("Analytics service stopped")
}

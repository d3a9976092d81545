package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"material-exchange/internal/api/handlers"
	"material-exchange/internal/app"
	"material-exchange/internal/config"
	"material-exchange/internal/infrastructure/leader"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
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
	}).With("service", "auction-service", "instance_id", cfg.Instance.ID)
	log.Info("Starting auction service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	core, err := app.NewCore(ctx, cfg, nil, log)
	cancel()
	if err != nil {
		log.Error("Failed to initialize bidding core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	// Initialize leader election and the closing sweep
	leaderElection := leader.NewRedisLeaderElection(core.Redis, cfg.Leader.TTL, log)
	scheduler := services.NewCronAuctionScheduler(cfg.Scheduler.SweepSpec, core.AuctionManager,
		leaderElection, cfg.Instance.ID, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: `{"time":"${time_rfc3339}","id":"${id}","remote_ip":"${remote_ip}","host":"${host}","method":"${method}","uri":"${uri}","user_agent":"${user_agent}","status":${status},"error":"${error}","latency":${latency},"latency_human":"${latency_human}","bytes_in":${bytes_in},"bytes_out":${bytes_out}}` + "\n",
	}))
	e.Use(middleware.Recover())
	if cfg.Server.RateLimit > 0 {
		// Per client IP; bids already queue on the auction lock.
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit))))
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{echo.GET, echo.HEAD, echo.POST, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			handlers.HeaderUserID,
			handlers.HeaderIdempotencyKey,
		},
		ExposeHeaders: []string{"Retry-After", handlers.HeaderReplayed},
		MaxAge:        86400,
	}))

	handlers.NewAuctionHandler(core.AuctionManager, core.BidService, log).Register(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-service",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	if err := scheduler.Start(runCtx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting HTTP server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopRun()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop scheduler", "error", err)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Auction service stopped")
}

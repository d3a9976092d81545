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
	"material-exchange/internal/api/middleware"
	"material-exchange/internal/app"
	"material-exchange/internal/config"
	"material-exchange/internal/infrastructure/websocket"
	"material-exchange/internal/services"
	"material-exchange/pkg/logger"

	"github.com/gorilla/mux"
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
	}).With("service", "bidding-service", "instance_id", cfg.Instance.ID)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	core, err := app.NewCore(ctx, cfg, nil, log)
	cancel()
	if err != nil {
		log.Error("Failed to initialize bidding core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	// Initialize connection manager and notifiers
	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)

	eventListener := services.NewEventListener(connManager, notifier, notifier, log)
	wsHandlers := handlers.NewWebSocketHandlers(core.BidService, core.AuctionManager, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS(log))
	wsHandlers.Register(router)

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	go func() {
		if err := eventListener.Start(runCtx, core.Subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed to start", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopRun()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Bidding service stopped")
}

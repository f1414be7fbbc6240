package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"beatwatch/api"
	"beatwatch/api/middleware"
	"beatwatch/api/services"
	"beatwatch/db"
	"beatwatch/pkg/logger"
	embeddednats "beatwatch/pkg/services/embedded-nats"
	"beatwatch/pkg/services/scheduler"
	"beatwatch/pkg/services/workers"
	"beatwatch/pkg/shared"
)

func initDB(zlog *zap.Logger) (*db.Service, error) {
	config := db.DefaultConfig()
	if path := os.Getenv("DB_PATH"); path != "" {
		config.DBPath = path
	}
	config.AutoInitialize = true
	config.Logger = zlog

	dbService, err := db.New(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}

	// Verify schema is properly initialized
	if err := dbService.VerifySchema(); err != nil {
		zlog.Warn("Schema verification failed, initializing schema", zap.Error(err))
		if err := dbService.InitializeSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return dbService, nil
}

func initNATS(zlog *zap.Logger) (*embeddednats.EmbeddedNATS, error) {
	config := embeddednats.DefaultConfig()
	if dir := os.Getenv("NATS_DATA_DIR"); dir != "" {
		config.DataDir = dir
	}
	if port := os.Getenv("NATS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}

	nats, err := embeddednats.New(config, zlog)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS: %w", err)
	}

	if err := nats.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	if err := nats.CreateBeatwatchStreams(); err != nil {
		return nil, fmt.Errorf("failed to create beatwatch streams: %w", err)
	}

	// Create durable consumers
	consumers := []struct {
		stream   string
		consumer string
		filter   string
	}{
		{shared.StreamFixes, shared.ConsumerFixProcessor, shared.SubjectFixesAll},
		{shared.StreamAudit, shared.ConsumerAuditProcessor, shared.SubjectAuditAll},
	}

	for _, c := range consumers {
		if err := nats.CreateDurableConsumer(c.stream, c.consumer, c.filter); err != nil {
			return nil, fmt.Errorf("failed to create consumer %s: %w", c.consumer, err)
		}
	}

	return nats, nil
}

func schedulerInterval() time.Duration {
	if raw := os.Getenv("SCHEDULER_INTERVAL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return scheduler.DefaultInterval
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	zlog, err := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"), "beatwatch")
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	dbService, err := initDB(zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	// Initialize embedded NATS
	nats, err := initNATS(zlog)
	if err != nil {
		zlog.Fatal("Failed to initialize NATS", zap.Error(err))
	}

	// Initialize handlers; services share one per-beat lock registry
	locks := services.NewBeatLocks()
	handlers := api.NewHandlers(dbService, nats, locks, zlog)

	// Start NATS workers
	workerManager, err := workers.NewManager(nats, handlers.ViolationService(), dbService.GetDB(), zlog)
	if err != nil {
		zlog.Fatal("Failed to create worker manager", zap.Error(err))
	}
	if err := workerManager.Start(); err != nil {
		zlog.Fatal("Failed to start workers", zap.Error(err))
	}

	// Start the duty scheduler
	dutyScheduler := scheduler.New(handlers.BeatService(), handlers.AcceptanceService(), schedulerInterval(), zlog)
	dutyScheduler.Start()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Create HTTP server mux
	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, nats)

	// Apply CORS middleware to all routes
	handler := middleware.CORS(middleware.RequestLogger(zlog, mux))

	// Configure server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		zlog.Info("Starting beatwatch API server", zap.String("port", port))

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	zlog.Info("Shutting down server")

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Failed to shutdown server gracefully", zap.Error(err))
	}

	// Stop the scheduler and workers
	dutyScheduler.Stop()
	if workerManager != nil {
		if err := workerManager.Stop(); err != nil {
			zlog.Error("Failed to stop workers", zap.Error(err))
		}
	}

	// Shutdown NATS
	if nats != nil {
		if err := nats.Shutdown(shutdownCtx); err != nil {
			zlog.Error("Failed to shutdown NATS", zap.Error(err))
		}
	}

	zlog.Info("Server shutdown complete")
}

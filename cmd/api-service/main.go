package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/invoicegen/internal/api/handler"
	"github.com/cuongbtq/invoicegen/internal/api/router"
	"github.com/cuongbtq/invoicegen/internal/bootstrap"
	"github.com/cuongbtq/invoicegen/internal/config"
	"github.com/cuongbtq/invoicegen/internal/orchestrator"
	"github.com/cuongbtq/invoicegen/internal/payment"
	"github.com/cuongbtq/invoicegen/internal/worker"
	"github.com/cuongbtq/invoicegen/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("dispatch", cfg.Dispatch.Mode),
		slog.String("payment", cfg.Payment.Mode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job table
	store, dbClient, err := bootstrap.InitStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}
	if dbClient != nil {
		defer dbClient.Close()
		appLogger.Info("Database connection established")
	}

	gate := bootstrap.NewGate(&cfg.Payment, appLogger.Logger)
	deps, err := bootstrap.NewDeps(cfg, store, gate, appLogger.Logger)
	if err != nil {
		return err
	}
	deps.Monitor = payment.NewMonitor(gate, cfg.Payment.PollInterval, appLogger.Logger)

	// Confirmed jobs go either to the worker service over RabbitMQ or to an
	// in-process pool.
	var (
		orch         *orchestrator.Orchestrator
		dispatcher   orchestrator.Dispatcher
		rabbitClient *rabbitmq.Client
		pool         *worker.Worker
	)
	switch cfg.Dispatch.Mode {
	case config.DispatchRabbitMQ:
		rabbitClient, err = bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")
		dispatcher = worker.NewPublisher(rabbitClient, appLogger.Logger)
	default:
		pool = worker.NewWorker(&worker.Config{
			Logger: appLogger.Logger,
			Handler: worker.HandlerFunc(func(ctx context.Context, jobID string) error {
				return orch.OnPaymentConfirmed(ctx, jobID)
			}),
			WorkerID:    cfg.App.Name,
			Concurrency: cfg.Worker.Concurrency,
			QueueSize:   cfg.Worker.QueueSize,
			JobTimeout:  cfg.Worker.JobTimeout,
		})
		pool.Start(ctx)
		dispatcher = pool
	}

	orch = orchestrator.New(deps, appLogger.Logger, orchestrator.WithDispatcher(dispatcher))
	if _, err := orch.Resume(ctx); err != nil {
		return err
	}

	// Initialize router
	checks := map[string]handler.HealthChecker{}
	if dbClient != nil {
		checks["postgres"] = dbClient
	}
	if rabbitClient != nil {
		checks["rabbitmq"] = rabbitClient
	}
	r := initRouter(cfg, appLogger.Logger, orch, checks)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	// Stop polling, then drain the in-process pool.
	orch.Close()
	if pool != nil {
		pool.Stop()
	}
	cancel()

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, orch *orchestrator.Orchestrator, checks map[string]handler.HealthChecker) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:      logger,
		Jobs:        orch,
		ServiceName: cfg.App.Name,
		Checks:      checks,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}

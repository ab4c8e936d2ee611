// Package bootstrap builds the clients and pipeline collaborators shared by
// the api-service, worker-service and invoicectl binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/invoicegen/internal/config"
	"github.com/cuongbtq/invoicegen/internal/orchestrator"
	"github.com/cuongbtq/invoicegen/internal/payment"
	"github.com/cuongbtq/invoicegen/internal/regulation"
	"github.com/cuongbtq/invoicegen/internal/render"
	"github.com/cuongbtq/invoicegen/internal/storage"
	"github.com/cuongbtq/invoicegen/internal/structuring"
	"github.com/cuongbtq/invoicegen/shared/logger"
	"github.com/cuongbtq/invoicegen/shared/postgresql"
	"github.com/cuongbtq/invoicegen/shared/rabbitmq"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnectTimeout:  cfg.ConnectTimeout,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// InitStore opens the configured job table. The returned client is nil for
// the memory driver; callers close it on shutdown.
func InitStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, *postgresql.Client, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return storage.NewMemoryStore(), nil, nil
	case config.StoragePostgres:
		dbClient, err := InitPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		store := storage.NewPostgresStore(dbClient.GetDB(), logger)
		if err := store.EnsureSchema(ctx); err != nil {
			dbClient.Close()
			return nil, nil, err
		}
		return store, dbClient, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

// NewGate builds the configured payment gate.
func NewGate(cfg *config.PaymentConfig, logger *slog.Logger) payment.Gate {
	if cfg.Mode == config.PaymentHTTP {
		return payment.NewHTTPGate(payment.HTTPConfig{
			BaseURL: cfg.BaseURL,
			Token:   cfg.Token,
			Timeout: cfg.Timeout,
		}, logger)
	}
	return payment.NewLocalGate(cfg.AutoConfirm)
}

// NewDeps builds the orchestrator collaborators around store and gate.
// Monitor is left nil; only the process that creates jobs needs one.
func NewDeps(cfg *config.Config, store storage.Store, gate payment.Gate, logger *slog.Logger) (orchestrator.Deps, error) {
	renderer, err := render.New(render.Config{
		OutputDir:    cfg.Renderer.OutputDir,
		Format:       cfg.Renderer.Format,
		NumberPrefix: cfg.Renderer.NumberPrefix,
	}, logger)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("failed to initialize renderer: %w", err)
	}

	return orchestrator.Deps{
		Store: store,
		Gate:  gate,
		Regulation: regulation.NewSerperSource(regulation.Config{
			BaseURL:      cfg.Regulation.BaseURL,
			APIKey:       cfg.Regulation.APIKey,
			Results:      cfg.Regulation.Results,
			Timeout:      cfg.Regulation.Timeout,
			MaxPageBytes: cfg.Regulation.MaxPageBytes,
			UserAgent:    cfg.Regulation.UserAgent,
		}, logger),
		Structurer: structuring.NewClient(structuring.Config{
			BaseURL:         cfg.Structuring.BaseURL,
			APIKey:          cfg.Structuring.APIKey,
			Model:           cfg.Structuring.Model,
			Temperature:     cfg.Structuring.Temperature,
			Timeout:         cfg.Structuring.Timeout,
			MaxContextChars: cfg.Structuring.MaxContextChars,
		}, logger),
		Renderer: renderer,
	}, nil
}

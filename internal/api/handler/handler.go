package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/orchestrator"
)

// JobService is the part of *orchestrator.Orchestrator the handlers use.
type JobService interface {
	Create(ctx context.Context, facts invoice.Facts) (orchestrator.CreateResult, error)
	GetStatus(ctx context.Context, jobID string) (*domain.Job, error)
	ProvideInput(ctx context.Context, jobID string, patch invoice.Facts, signal string) (*domain.Job, error)
	HandlePaymentEvent(ctx context.Context, reference, status string) (string, error)
}

// HealthChecker is satisfied by *postgresql.Client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobService
	ServiceName string
	// Checks run on /health; a nil map reports healthy.
	Checks map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}

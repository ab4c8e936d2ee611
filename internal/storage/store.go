// Package storage holds the job table.
package storage

import (
	"context"

	"github.com/cuongbtq/invoicegen/internal/domain"
)

// Store is the job table. Every read returns a private copy; writers must
// hold the job's lock in the orchestrator. Transition is the only write that
// is safe without it: it is a compare-and-swap on the status.
type Store interface {
	// Create inserts a new job. It fails with domain.ErrJobExists when the
	// id is taken.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns the job or domain.ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// GetByPaymentReference resolves a payment reference to its job.
	GetByPaymentReference(ctx context.Context, ref string) (*domain.Job, error)

	// ListByStatus returns every job in status, oldest first.
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Job, error)

	// Transition moves a job from one status to another if it is still in
	// from. It fails with domain.ErrAlreadyClaimed when the status moved on
	// and with domain.ErrInvalidTransition for edges outside the lifecycle.
	Transition(ctx context.Context, id string, from, to domain.Status) (*domain.Job, error)

	// Save writes the full job state. The stored status must either equal
	// job.Status or have an edge to it.
	Save(ctx context.Context, job *domain.Job) error
}

// priorStatuses returns the statuses a job may be stored in for a write of
// status to be legal.
func priorStatuses(status domain.Status) []string {
	out := []string{string(status)}
	for _, s := range []domain.Status{
		domain.StatusAwaitingPayment, domain.StatusRunning, domain.StatusCompleted, domain.StatusFailed,
	} {
		if domain.CanTransition(s, status) {
			out = append(out, string(s))
		}
	}
	return out
}

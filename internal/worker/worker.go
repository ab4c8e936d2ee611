// Package worker runs payment-confirmed jobs on a bounded goroutine pool.
// Jobs arrive either from RabbitMQ deliveries or from an in-process
// Dispatch call.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("worker stopped")

// Handler runs the pipeline of one confirmed job.
type Handler interface {
	OnPaymentConfirmed(ctx context.Context, jobID string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, jobID string) error

func (f HandlerFunc) OnPaymentConfirmed(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// acker settles a message once it has been processed.
type acker interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Message is one job handed to the pool.
type Message struct {
	JobID       string
	DeliveryTag uint64
	acker       acker
}

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Handler     Handler
	WorkerID    string
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
}

// Worker represents the background job worker
type Worker struct {
	logger      *slog.Logger
	handler     Handler
	workerID    string
	concurrency int
	jobTimeout  time.Duration

	jobsChan chan *Message
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = concurrency
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	return &Worker{
		logger:      cfg.Logger,
		handler:     cfg.Handler,
		workerID:    workerID,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		jobsChan:    make(chan *Message, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start spawns the worker pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)
	w.spawnWorkerPool(ctx)
}

// Dispatch queues jobID for the pool. Messages queued this way have
// nothing to acknowledge.
func (w *Worker) Dispatch(ctx context.Context, jobID string) error {
	msg := &Message{JobID: jobID, acker: noopAcker{}}
	select {
	case <-w.stopChan:
		return ErrStopped
	default:
	}
	select {
	case w.jobsChan <- msg:
		return nil
	case <-w.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("dispatch canceled: %w", ctx.Err())
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("Worker stopped")
	})
}

type noopAcker struct{}

func (noopAcker) Ack(bool) error        { return nil }
func (noopAcker) Nack(bool, bool) error { return nil }

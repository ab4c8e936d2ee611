// Package orchestrator owns the job lifecycle: creation, payment gating,
// pipeline execution and re-entry with caller corrections.
package orchestrator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/normalizer"
	"github.com/cuongbtq/invoicegen/internal/payment"
	"github.com/cuongbtq/invoicegen/internal/render"
	"github.com/cuongbtq/invoicegen/internal/storage"
	"github.com/cuongbtq/invoicegen/internal/structuring"
)

// CompletionSignal finalizes a completed job when passed to ProvideInput.
const CompletionSignal = "done"

// RegulationSource returns raw regulatory text for a jurisdiction pair. It
// never fails; an unreachable source yields no blocks.
type RegulationSource interface {
	Lookup(ctx context.Context, a, b string) []normalizer.Block
}

// Structurer turns facts and regulatory context into a record and analysis.
type Structurer interface {
	Structure(ctx context.Context, req structuring.Request) (structuring.Result, error)
}

// Renderer produces the invoice artifact for a validated record.
type Renderer interface {
	Render(ctx context.Context, rec invoice.Record) (render.Document, error)
}

// Dispatcher hands a confirmed job to whatever runs OnPaymentConfirmed:
// an in-process pool or a message queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Store      storage.Store
	Gate       payment.Gate
	Monitor    *payment.Monitor
	Regulation RegulationSource
	Structurer Structurer
	Renderer   Renderer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher routes payment confirmations through d instead of running
// the pipeline on a goroutine of this process.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) {
		o.dispatcher = d
	}
}

// WithPipelineTimeout bounds one pipeline pass.
func WithPipelineTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.pipelineTimeout = d
	}
}

// WithIDGenerator replaces uuid job ids.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		o.newID = gen
	}
}

// Orchestrator is the only writer of job state.
type Orchestrator struct {
	store      storage.Store
	gate       payment.Gate
	monitor    *payment.Monitor
	regulation RegulationSource
	structurer Structurer
	renderer   Renderer
	dispatcher Dispatcher
	logger     *slog.Logger

	locks           *jobLocks
	pipelineTimeout time.Duration
	newID           func() string
	inflight        sync.WaitGroup
}

// New creates an orchestrator. Without a Monitor in deps, payment updates
// arrive only through HandlePaymentEvent.
func New(deps Deps, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           deps.Store,
		gate:            deps.Gate,
		monitor:         deps.Monitor,
		regulation:      deps.Regulation,
		structurer:      deps.Structurer,
		renderer:        deps.Renderer,
		logger:          logger,
		locks:           newJobLocks(),
		pipelineTimeout: 5 * time.Minute,
		newID:           uuid.NewString,
	}
	if o.monitor == nil {
		o.monitor = payment.NewMonitor(deps.Gate, 0, logger)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateResult is returned by Create.
type CreateResult struct {
	JobID            string
	PaymentReference string
	Metadata         map[string]any
}

// Create registers a new job in awaiting_payment and subscribes to its
// payment. It does not wait for the payment.
func (o *Orchestrator) Create(ctx context.Context, facts invoice.Facts) (CreateResult, error) {
	if err := facts.Validate(); err != nil {
		return CreateResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	hash, err := InputHash(facts)
	if err != nil {
		return CreateResult{}, err
	}

	jobID := o.newID()
	p, err := o.gate.Request(ctx, payment.Request{
		JobID:               jobID,
		InputHash:           hash,
		PurchaserIdentifier: facts.PurchaserIdentifier,
	})
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to request payment: %w: %w", domain.ErrPaymentUnavailable, err)
	}

	job := &domain.Job{
		ID:               jobID,
		Status:           domain.StatusAwaitingPayment,
		PaymentReference: p.Reference,
		PaymentStatus:    domain.PaymentPending,
		PaymentMetadata:  p.Metadata,
		Input:            facts.Clone(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return CreateResult{}, fmt.Errorf("failed to create job: %w", err)
	}

	o.subscribe(job)
	jobsCreatedTotal.Inc()
	jobTransitionsTotal.WithLabelValues(string(domain.StatusAwaitingPayment)).Inc()

	o.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("payment_reference", p.Reference),
	)

	return CreateResult{
		JobID:            jobID,
		PaymentReference: p.Reference,
		Metadata:         p.Metadata,
	}, nil
}

// GetStatus reads the job and folds in the latest payment status while the
// subscription is open. The job's own status is never changed here.
func (o *Orchestrator) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if _, open := o.monitor.Lookup(jobID); !open {
		return job, nil
	}

	// Another process may have finished the job.
	if job.Status.IsTerminal() {
		o.monitor.Close(jobID)
		return job, nil
	}

	status, err := o.gate.Status(ctx, job.PaymentReference)
	if err != nil {
		o.logger.Warn("Failed to query payment status",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		job.PaymentStatus = domain.PaymentError
		return job, nil
	}
	job.PaymentStatus = payment.NormalizeStatus(status)
	return job, nil
}

// HandlePaymentEvent resolves a pushed payment update to its job and, when
// the payment is confirmed, dispatches the pipeline. It returns the job id.
func (o *Orchestrator) HandlePaymentEvent(ctx context.Context, reference, status string) (string, error) {
	job, err := o.store.GetByPaymentReference(ctx, reference)
	if err != nil {
		return "", err
	}

	norm := payment.NormalizeStatus(status)
	paymentEventsTotal.WithLabelValues(norm).Inc()

	if norm != domain.PaymentConfirmed {
		o.logger.Info("Payment event ignored",
			slog.String("job_id", job.ID),
			slog.String("payment_status", norm),
		)
		return job.ID, nil
	}
	o.monitor.MarkConfirmed(job.ID)
	if job.Status != domain.StatusAwaitingPayment {
		o.logger.Info("Duplicate payment confirmation ignored",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return job.ID, nil
	}

	return job.ID, o.dispatch(context.WithoutCancel(ctx), job.ID)
}

// Resume reopens the payment subscriptions of every job still awaiting
// payment, as after a restart with a persistent job table. It returns the
// number of subscriptions opened.
func (o *Orchestrator) Resume(ctx context.Context) (int, error) {
	jobs, err := o.store.ListByStatus(ctx, domain.StatusAwaitingPayment)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range jobs {
		o.subscribe(job)
	}
	if len(jobs) > 0 {
		o.logger.Info("Resumed payment subscriptions", slog.Int("jobs", len(jobs)))
	}
	return len(jobs), nil
}

func (o *Orchestrator) subscribe(job *domain.Job) {
	o.monitor.Subscribe(job.ID, job.PaymentReference, payment.Handlers{
		OnConfirmed: o.confirmed,
		Settled:     o.settled,
	})
}

// settled reports whether a job has left the pipeline, possibly in another
// process sharing the job table.
func (o *Orchestrator) settled(ctx context.Context, jobID string) bool {
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return errors.Is(err, domain.ErrJobNotFound)
	}
	return job.Status.IsTerminal()
}

// confirmed is the monitor callback.
func (o *Orchestrator) confirmed(jobID string) {
	paymentEventsTotal.WithLabelValues(domain.PaymentConfirmed).Inc()
	if err := o.dispatch(context.Background(), jobID); err != nil {
		o.logger.Error("Failed to dispatch confirmed job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, jobID string) error {
	if o.dispatcher != nil {
		return o.dispatcher.Dispatch(ctx, jobID)
	}

	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		if err := o.OnPaymentConfirmed(ctx, jobID); err != nil {
			o.logger.Error("Pipeline run failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return nil
}

// Wait blocks until pipelines started without a dispatcher have returned.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

// Close stops payment polling and waits for in-process pipelines.
func (o *Orchestrator) Close() {
	o.monitor.Stop()
	o.inflight.Wait()
}

// InputHash is the blake3 digest of the canonical JSON form of facts.
func InputHash(facts invoice.Facts) (string, error) {
	data, err := json.Marshal(facts)
	if err != nil {
		return "", fmt.Errorf("failed to encode facts: %w", err)
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// IsCompletionSignal reports whether s asks to finalize the job.
func IsCompletionSignal(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), CompletionSignal)
}

func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrJobNotFound) {
		return err
	}
	return domain.NewRetryableError(fmt.Errorf("failed to %s: %w", op, err))
}

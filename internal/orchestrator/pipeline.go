package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zeebo/blake3"

	"github.com/cuongbtq/invoicegen/internal/domain"
	"github.com/cuongbtq/invoicegen/internal/invoice"
	"github.com/cuongbtq/invoicegen/internal/normalizer"
	"github.com/cuongbtq/invoicegen/internal/structuring"
)

// OnPaymentConfirmed runs the full pipeline for a paid job. It is a no-op
// for any job that is no longer awaiting payment, so duplicate callbacks
// never re-run the pipeline. Pipeline failures are recorded on the job;
// the returned error only reports store problems.
func (o *Orchestrator) OnPaymentConfirmed(ctx context.Context, jobID string) error {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return storeError("load job", err)
	}
	if job.Status != domain.StatusAwaitingPayment {
		o.logger.Info("Payment confirmation ignored",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	running, err := o.store.Transition(ctx, jobID, domain.StatusAwaitingPayment, domain.StatusRunning)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			o.logger.Warn("Job already claimed, skipping", slog.String("job_id", jobID))
			return nil
		}
		return storeError("claim job", err)
	}
	jobTransitionsTotal.WithLabelValues(string(domain.StatusRunning)).Inc()
	running.PaymentStatus = domain.PaymentConfirmed

	o.logger.Info("Processing job", slog.String("job_id", jobID))
	work := context.WithoutCancel(ctx)
	o.run(work, running)
	return o.finish(work, running)
}

// ProvideInput merges a sparse correction into the job's facts. A completed
// job is re-run from the structuring stage, reusing the stored regulatory
// context. The completion signal finalizes a completed job instead.
func (o *Orchestrator) ProvideInput(ctx context.Context, jobID string, patch invoice.Facts, signal string) (*domain.Job, error) {
	unlock := o.locks.Lock(jobID)
	defer unlock()

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError("load job", err)
	}
	if job.Finalized {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobFinalized, jobID)
	}
	if job.Status == domain.StatusFailed {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobTerminal, jobID)
	}

	if IsCompletionSignal(signal) {
		return o.finalize(ctx, job)
	}

	changed := job.Input.Merge(patch)
	o.logger.Info("Input provided",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
		slog.Any("changed", changed),
	)

	switch job.Status {
	case domain.StatusAwaitingPayment:
		if len(changed) > 0 {
			if err := o.store.Save(ctx, job); err != nil {
				return nil, storeError("save input", err)
			}
		}
		return job, nil

	case domain.StatusCompleted:
		running, err := o.store.Transition(ctx, jobID, domain.StatusCompleted, domain.StatusRunning)
		if err != nil {
			return nil, storeError("reopen job", err)
		}
		jobTransitionsTotal.WithLabelValues(string(domain.StatusRunning)).Inc()
		running.Input = job.Input

		// The caller going away must not fail the pass or strand the job
		// in running.
		work := context.WithoutCancel(ctx)
		o.run(work, running)
		if err := o.finish(work, running); err != nil {
			return nil, err
		}
		return running, nil

	default:
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrAlreadyClaimed, jobID, job.Status)
	}
}

func (o *Orchestrator) finalize(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if job.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: cannot finalize job in status %s", domain.ErrInvalidTransition, job.Status)
	}
	job.Finalized = true
	if err := o.store.Save(ctx, job); err != nil {
		return nil, storeError("finalize job", err)
	}
	o.monitor.Close(job.ID)

	o.logger.Info("Job finalized", slog.String("job_id", job.ID))
	return job, nil
}

// run executes the pipeline on job in place and leaves it completed or
// failed. The regulation lookup is skipped once its result is stored. A
// failed pass drops the artifact of any earlier pass.
func (o *Orchestrator) run(ctx context.Context, job *domain.Job) {
	ctx, cancel := context.WithTimeout(ctx, o.pipelineTimeout)
	defer cancel()

	if jobErr := o.runStages(ctx, job); jobErr != nil {
		stageFailuresTotal.WithLabelValues(jobErr.Stage, jobErr.Kind).Inc()
		o.logger.Error("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("stage", jobErr.Stage),
			slog.String("kind", jobErr.Kind),
			slog.String("error", jobErr.Message),
		)
		job.Status = domain.StatusFailed
		job.Error = jobErr
		job.Result = ""
		job.ResultDigest = ""
		job.Analysis = ""
		return
	}

	job.Status = domain.StatusCompleted
	job.Error = nil
	o.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.String("result", job.Result),
	)
}

func (o *Orchestrator) runStages(ctx context.Context, job *domain.Job) *domain.JobError {
	if !job.RegulatoryContextSet {
		a, b := job.Input.Jurisdictions()

		var blocks []normalizer.Block
		timeStage(domain.StageRegulation, func() {
			blocks = o.regulation.Lookup(ctx, a, b)
		})
		timeStage(domain.StageNormalize, func() {
			job.RegulatoryContext = normalizer.Normalize(blocks)
		})
		job.RegulatoryContextSet = true

		if job.RegulatoryContext == "" {
			o.logger.Warn("No regulatory context found",
				slog.String("job_id", job.ID),
				slog.String("sender_jurisdiction", a),
				slog.String("recipient_jurisdiction", b),
			)
		}
	}

	var (
		res structuring.Result
		err error
	)
	timeStage(domain.StageStructuring, func() {
		res, err = o.structurer.Structure(ctx, structuring.Request{
			Facts:             job.Input,
			RegulatoryContext: job.RegulatoryContext,
		})
	})
	if err != nil {
		return domain.NewJobError(domain.StageStructuring, domain.KindAdapter, err)
	}

	rec := invoice.Normalize(res.Record)
	job.Record = &rec
	if err := invoice.Validate(&rec); err != nil {
		return domain.NewJobError(domain.StageValidation, domain.KindConsistency, err)
	}

	var (
		path   string
		digest string
	)
	timeStage(domain.StageRender, func() {
		doc, rerr := o.renderer.Render(ctx, rec)
		if rerr != nil {
			err = rerr
			return
		}
		path = doc.Path
		digest, err = fileDigest(doc.Path)
	})
	if err != nil {
		return domain.NewJobError(domain.StageRender, domain.KindInternal, err)
	}

	job.Result = path
	job.ResultDigest = digest
	job.Analysis = res.Analysis
	return nil
}

// finish stores the pass outcome, tears the payment subscription down on
// the first terminal state and reports the result digest to the gate.
func (o *Orchestrator) finish(ctx context.Context, job *domain.Job) error {
	if err := o.store.Save(ctx, job); err != nil {
		return storeError("save job", err)
	}
	jobTransitionsTotal.WithLabelValues(string(job.Status)).Inc()
	o.monitor.Close(job.ID)

	if job.Status != domain.StatusCompleted {
		return nil
	}

	completionErr := ""
	if err := o.gate.Complete(ctx, job.PaymentReference, job.ResultDigest); err != nil {
		o.logger.Warn("Failed to submit result to payment gate",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		completionErr = err.Error()
	}
	if completionErr == job.PaymentCompletionError {
		return nil
	}
	job.PaymentCompletionError = completionErr
	if err := o.store.Save(ctx, job); err != nil {
		return storeError("save payment completion", err)
	}
	return nil
}

func timeStage(stage string, fn func()) {
	start := time.Now()
	fn()
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

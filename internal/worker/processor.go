package worker

import (
	"context"
	"log/slog"
	"time"
)

// processJob runs the handler for one message under the job timeout.
func (w *Worker) processJob(ctx context.Context, msg *Message) error {
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.handler.OnPaymentConfirmed(ctx, msg.JobID)

	w.logger.Info("Job processed",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	return err
}

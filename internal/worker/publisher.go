package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// publisher is the publishing side of *rabbitmq.Client.
type publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher dispatches confirmed jobs to the worker service over RabbitMQ.
type Publisher struct {
	client publisher
	logger *slog.Logger
}

// NewPublisher creates a queue-backed dispatcher.
func NewPublisher(client publisher, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Dispatch publishes {"job_id": jobID}.
func (p *Publisher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(jobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to encode job message: %w", err)
	}
	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", jobID, err)
	}

	p.logger.Info("Job published to queue", slog.String("job_id", jobID))
	return nil
}

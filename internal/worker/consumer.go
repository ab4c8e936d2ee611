package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource starts a manual-ack consumer. *rabbitmq.Client satisfies it.
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// jobMessage is the queue payload published for a confirmed job.
type jobMessage struct {
	JobID string `json:"job_id"`
}

// Consume starts consuming from source and feeds the pool until ctx is
// done or the delivery channel closes.
func (w *Worker) Consume(ctx context.Context, source DeliverySource) error {
	deliveries, err := source.Consume(w.workerID)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started", slog.String("consumer_tag", w.workerID))
	w.dispatchDeliveries(ctx, deliveries)
	return nil
}

// dispatchDeliveries listens to RabbitMQ deliveries and dispatches jobs to worker pool
func (w *Worker) dispatchDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var body jobMessage
			if err := json.Unmarshal(delivery.Body, &body); err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				w.reject(delivery)
				continue
			}

			if _, err := uuid.Parse(body.JobID); err != nil {
				w.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", body.JobID),
					slog.String("error", err.Error()),
				)
				w.reject(delivery)
				continue
			}

			msg := &Message{
				JobID:       body.JobID,
				DeliveryTag: delivery.DeliveryTag,
				acker:       delivery,
			}

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", body.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// reject drops a malformed delivery without requeue so it dead-letters.
func (w *Worker) reject(delivery amqp.Delivery) {
	messagesTotal.WithLabelValues("rejected").Inc()
	if err := delivery.Nack(false, false); err != nil {
		w.logger.Error("Failed to NACK malformed message",
			slog.String("error", err.Error()),
		)
	}
}

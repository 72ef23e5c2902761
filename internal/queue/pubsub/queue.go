// Package pubsubqueue carries pipeline invocations over Google Cloud Pub/Sub
// so the API and workers can run as separate processes.
package pubsubqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
	pspublisher "github.com/jonidaniel/jobsai/internal/publisher/pubsub"
)

// Queue publishes invocations to a topic and receives them from a subscription.
// Messages are acked once a worker has taken them, so delivery is at most once.
type Queue struct {
	publisher  *pspublisher.Publisher
	sub        *pubsub.Subscription
	deliveries chan job.Invocation
	logger     *zap.Logger
}

// New wires a Queue. sub may be nil for enqueue-only processes.
func New(publisher *pspublisher.Publisher, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		publisher:  publisher,
		sub:        sub,
		deliveries: make(chan job.Invocation),
		logger:     logger.Named("pubsub_queue"),
	}
}

// Enqueue publishes the invocation as JSON.
func (q *Queue) Enqueue(ctx context.Context, inv job.Invocation) error {
	if q.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	id, err := q.publisher.PublishWithAttributes(ctx, inv, map[string]string{"job_id": inv.JobID})
	if err != nil {
		return fmt.Errorf("enqueue invocation: %w", err)
	}
	q.logger.Debug("invocation published", zap.String("job_id", inv.JobID), zap.String("message_id", id))
	return nil
}

// Run pulls messages until ctx is done and hands them to Dequeue callers.
func (q *Queue) Run(ctx context.Context) error {
	if q.sub == nil {
		return fmt.Errorf("pubsub subscription is not configured")
	}
	err := q.sub.Receive(ctx, func(mctx context.Context, msg *pubsub.Message) {
		var inv job.Invocation
		if err := json.Unmarshal(msg.Data, &inv); err != nil || inv.JobID == "" {
			q.logger.Error("dropping malformed invocation",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			msg.Ack()
			return
		}
		select {
		case q.deliveries <- inv:
			msg.Ack()
		case <-mctx.Done():
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive invocations: %w", err)
	}
	return nil
}

// Dequeue waits for the next received invocation.
func (q *Queue) Dequeue(ctx context.Context) (job.Invocation, error) {
	select {
	case <-ctx.Done():
		return job.Invocation{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case inv := <-q.deliveries:
		return inv, nil
	}
}

// Package memory is the publisher used when no Pub/Sub topic is configured.
// Payloads go through the same JSON encoding and trace propagation as the
// Pub/Sub publisher, so local runs fail the same way production would.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	pubsubpublisher "github.com/jonidaniel/jobsai/internal/publisher/pubsub"
)

// Envelope is one accepted message as it would have gone over the wire.
type Envelope struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Decode unmarshals the envelope body into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Publisher keeps every accepted envelope in memory.
type Publisher struct {
	mu        sync.Mutex
	envelopes []Envelope
	failure   error
	logger    *zap.Logger
}

// New returns an empty Publisher.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("publisher.memory")}
}

// FailWith makes later publishes return err until called with nil.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Publish encodes payload and stores it under topic.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	otel.GetTextMapPropagator().Inject(ctx, pubsubpublisher.Carrier(attrs))

	p.mu.Lock()
	if p.failure != nil {
		err := p.failure
		p.mu.Unlock()
		return "", err
	}
	env := Envelope{ID: uuid.NewString(), Topic: topic, Data: data, Attributes: attrs}
	p.envelopes = append(p.envelopes, env)
	p.mu.Unlock()

	p.logger.Info("message published",
		zap.String("topic", topic),
		zap.String("id", env.ID),
		zap.Int("bytes", len(data)),
	)
	return env.ID, nil
}

// Envelopes returns a copy of what has been published, oldest first.
func (p *Publisher) Envelopes() []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Envelope(nil), p.envelopes...)
}

// Topic returns the envelopes published to one topic.
func (p *Publisher) Topic(name string) []Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Envelope
	for _, env := range p.envelopes {
		if env.Topic == name {
			out = append(out, env)
		}
	}
	return out
}

// Package pubsub publishes JSON messages to a Google Cloud Pub/Sub topic with
// trace context carried in the message attributes.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals payload to JSON, publishes it and waits for the server id.
// The topic argument is informational; the bound topic is always used.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	return p.PublishWithAttributes(ctx, payload, nil)
}

// PublishWithAttributes is Publish with extra message attributes.
func (p *Publisher) PublishWithAttributes(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string, len(attrs)+2)}
	for k, v := range attrs {
		msg.Attributes[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, Carrier(msg.Attributes))

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// Carrier adapts Pub/Sub attributes to propagation.TextMapCarrier.
type Carrier map[string]string

// Get returns the value for key.
func (c Carrier) Get(key string) string {
	return c[key]
}

// Set stores value under key.
func (c Carrier) Set(key, value string) {
	c[key] = value
}

// Keys lists the attribute names.
func (c Carrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

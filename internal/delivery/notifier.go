// Package delivery hands completed documents to the mail pipeline by
// publishing a message with presigned download links.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/job"
)

// DefaultLinkTTL is how long delivered links stay valid.
const DefaultLinkTTL = time.Hour

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Link is one delivered document.
type Link struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Message is the payload published for each email delivery.
type Message struct {
	JobID     string    `json:"job_id"`
	Recipient string    `json:"recipient"`
	Links     []Link    `json:"links"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Config controls the notifier.
type Config struct {
	Topic   string
	LinkTTL time.Duration
}

// Notifier implements job.Notifier.
type Notifier struct {
	artifacts job.ArtifactStore
	publisher Publisher
	clock     job.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Notifier.
func New(artifacts job.ArtifactStore, publisher Publisher, clock job.Clock, cfg Config, logger *zap.Logger) *Notifier {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = DefaultLinkTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		artifacts: artifacts,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("delivery"),
	}
}

// Deliver presigns every stored document of a complete job and publishes one
// message addressed to the job's delivery target.
func (n *Notifier) Deliver(ctx context.Context, state job.State) error {
	if state.Status != job.StatusComplete {
		return fmt.Errorf("job %s is %s, not complete", state.JobID, state.Status)
	}
	recipient := strings.TrimSpace(state.DeliveryTarget)
	if recipient == "" {
		return errors.New("delivery target is empty")
	}
	keys := state.ResultStrings(job.ResultKeys)
	if len(keys) == 0 {
		return errors.New("job has no stored documents")
	}
	filenames := state.ResultStrings(job.ResultFilenames)

	msg := Message{
		JobID:     state.JobID,
		Recipient: recipient,
		Links:     make([]Link, 0, len(keys)),
		ExpiresAt: n.clock.Now().UTC().Add(n.cfg.LinkTTL),
	}
	for i, key := range keys {
		url, err := n.artifacts.Presign(ctx, key, n.cfg.LinkTTL)
		if err != nil {
			return fmt.Errorf("presign %s: %w", key, err)
		}
		name := key[strings.LastIndex(key, "/")+1:]
		if i < len(filenames) && filenames[i] != "" {
			name = filenames[i]
		}
		msg.Links = append(msg.Links, Link{Filename: name, URL: url})
	}

	id, err := n.publisher.Publish(ctx, n.cfg.Topic, msg)
	if err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	n.logger.Info("delivery published",
		zap.String("job_id", state.JobID),
		zap.String("message_id", id),
		zap.Int("documents", len(msg.Links)),
	)
	return nil
}

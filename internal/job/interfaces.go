package job

import (
	"context"
	"time"
)

// StateStore persists job records. Every write refreshes the record's expiry.
// Implementations must return errors on store failure rather than dropping writes.
type StateStore interface {
	Create(ctx context.Context, state State) error
	Get(ctx context.Context, jobID string) (State, error)
	UpdateProgress(ctx context.Context, jobID string, progress Progress) error
	UpdateTerminal(ctx context.Context, jobID string, status Status, result map[string]any, errMsg string) error
	RequestCancellation(ctx context.Context, jobID string) error
}

// Generator turns prompts into text.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Renderer produces a binary document.
type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// ArtifactStore holds generated documents.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Notifier delivers the result of a completed job.
type Notifier interface {
	Deliver(ctx context.Context, state State) error
}

// Invoker starts a pipeline execution without waiting for it.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// Queue transports invocations between the API and workers.
type Queue interface {
	Enqueue(ctx context.Context, inv Invocation) error
	Dequeue(ctx context.Context) (Invocation, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator returns new job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

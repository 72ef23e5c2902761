package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonidaniel/jobsai/internal/job"
)

const defaultKeyPrefix = "jobsai:job:"

// ARGV[1] is the ttl in milliseconds, the rest are field/value pairs.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1`)

var updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1`)

// ARGV[1] is the ttl in milliseconds, ARGV[2] the new expires_at value.
var cancelScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
if redis.call('HGET', KEYS[1], 'status') == 'running' then
	redis.call('HSET', KEYS[1], 'status', 'cancelling')
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1`)

// Config controls key naming and retention.
type Config struct {
	KeyPrefix string
	Retention time.Duration
}

// StateStore keeps one hash per job. Redis expires the key after the retention
// horizon, and every write pushes the horizon forward.
type StateStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewStateStore constructs a Redis-backed StateStore.
func NewStateStore(client redis.UniversalClient, cfg Config) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = job.DefaultRetention
	}
	return &StateStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *StateStore) key(jobID string) string {
	return s.prefix + jobID
}

func (s *StateStore) ttlArgs() (int64, string) {
	return s.retention.Milliseconds(), s.now().Add(s.retention).Format(time.RFC3339Nano)
}

// Create writes the initial record, failing with job.ErrAlreadyExists if the id is taken.
func (s *StateStore) Create(ctx context.Context, state job.State) error {
	if state.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	ttl, expiresAt := s.ttlArgs()
	args := []any{
		ttl,
		"job_id", state.JobID,
		"status", string(state.Status),
		"error", state.Error,
		"created_at", state.CreatedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", expiresAt,
		"delivery_method", state.DeliveryMethod,
		"delivery_target", state.DeliveryTarget,
	}
	if state.Progress != nil {
		raw, err := json.Marshal(state.Progress)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		args = append(args, "progress", string(raw))
	}
	if state.Result != nil {
		raw, err := json.Marshal(state.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		args = append(args, "result", string(raw))
	}
	created, err := createScript.Run(ctx, s.client, []string{s.key(state.JobID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("create job %s: %w", state.JobID, err)
	}
	if created == 0 {
		return job.ErrAlreadyExists
	}
	return nil
}

// Get reads the record.
func (s *StateStore) Get(ctx context.Context, jobID string) (job.State, error) {
	fields, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return job.State{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return job.State{}, job.ErrNotFound
	}
	return decodeState(jobID, fields)
}

// UpdateProgress overwrites the progress field.
func (s *StateStore) UpdateProgress(ctx context.Context, jobID string, progress job.Progress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.update(ctx, jobID, "progress", string(raw))
}

// UpdateTerminal writes a terminal status and its payload. A nil result keeps
// whatever result was stored before.
func (s *StateStore) UpdateTerminal(
	ctx context.Context,
	jobID string,
	status job.Status,
	result map[string]any,
	errMsg string,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	pairs := []any{"status", string(status), "error", errMsg}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		pairs = append(pairs, "result", string(raw))
	}
	return s.update(ctx, jobID, pairs...)
}

// RequestCancellation moves a running job to cancelling. Other statuses are left alone.
func (s *StateStore) RequestCancellation(ctx context.Context, jobID string) error {
	ttl, expiresAt := s.ttlArgs()
	ok, err := cancelScript.Run(ctx, s.client, []string{s.key(jobID)}, ttl, expiresAt).Int()
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	if ok == 0 {
		return job.ErrNotFound
	}
	return nil
}

func (s *StateStore) update(ctx context.Context, jobID string, pairs ...any) error {
	ttl, expiresAt := s.ttlArgs()
	args := make([]any, 0, len(pairs)+3)
	args = append(args, ttl)
	args = append(args, pairs...)
	args = append(args, "expires_at", expiresAt)
	ok, err := updateScript.Run(ctx, s.client, []string{s.key(jobID)}, args...).Int()
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if ok == 0 {
		return job.ErrNotFound
	}
	return nil
}

func decodeState(jobID string, fields map[string]string) (job.State, error) {
	state := job.State{
		JobID:          jobID,
		Status:         job.Status(fields["status"]),
		Error:          fields["error"],
		DeliveryMethod: fields["delivery_method"],
		DeliveryTarget: fields["delivery_target"],
	}
	var errs []error
	if raw := fields["progress"]; raw != "" {
		var p job.Progress
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			errs = append(errs, fmt.Errorf("decode progress: %w", err))
		} else {
			state.Progress = &p
		}
	}
	if raw := fields["result"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &state.Result); err != nil {
			errs = append(errs, fmt.Errorf("decode result: %w", err))
		}
	}
	if raw := fields["created_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode created_at: %w", err))
		}
		state.CreatedAt = ts
	}
	if raw := fields["expires_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("decode expires_at: %w", err))
		}
		state.ExpiresAt = ts
	}
	if err := errors.Join(errs...); err != nil {
		return job.State{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return state, nil
}

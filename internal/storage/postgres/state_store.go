package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonidaniel/jobsai/internal/job"
)

// StateStoreConfig names the table and retention horizon.
type StateStoreConfig struct {
	Table     string
	Retention time.Duration
}

// StateStore keeps job records in a single table. Rows past expires_at are
// invisible to readers and removed by DeleteExpired.
type StateStore struct {
	pool      Pool
	table     string
	retention time.Duration
	now       func() time.Time
}

// NewStateStore constructs a StateStore on an existing pool.
func NewStateStore(pool Pool, cfg StateStoreConfig) (*StateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(cfg.Table, "job_states")
	if err != nil {
		return nil, err
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = job.DefaultRetention
	}
	return &StateStore{
		pool:      pool,
		table:     table,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the table when missing.
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	progress        JSONB,
	result          JSONB,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	delivery_method TEXT NOT NULL DEFAULT '',
	delivery_target TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Create inserts the initial row.
func (s *StateStore) Create(ctx context.Context, state job.State) error {
	if state.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	progress, err := marshalNullable(state.Progress, state.Progress == nil)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	result, err := marshalNullable(state.Result, state.Result == nil)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, status, progress, result, error, created_at, expires_at, delivery_method, delivery_target)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (job_id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		state.JobID,
		string(state.Status),
		progress,
		result,
		state.Error,
		state.CreatedAt.UTC(),
		s.now().Add(s.retention),
		state.DeliveryMethod,
		state.DeliveryTarget,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", state.JobID, err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrAlreadyExists
	}
	return nil
}

// Get reads an unexpired row.
func (s *StateStore) Get(ctx context.Context, jobID string) (job.State, error) {
	query := fmt.Sprintf(`
SELECT status, progress, result, error, created_at, expires_at, delivery_method, delivery_target
FROM %s
WHERE job_id = $1 AND expires_at > $2`, s.table)
	var (
		state    = job.State{JobID: jobID}
		status   string
		progress []byte
		result   []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID, s.now()).Scan(
		&status,
		&progress,
		&result,
		&state.Error,
		&state.CreatedAt,
		&state.ExpiresAt,
		&state.DeliveryMethod,
		&state.DeliveryTarget,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.State{}, job.ErrNotFound
		}
		return job.State{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	state.Status = job.Status(status)
	if len(progress) > 0 {
		var p job.Progress
		if err := json.Unmarshal(progress, &p); err != nil {
			return job.State{}, fmt.Errorf("decode progress: %w", err)
		}
		state.Progress = &p
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &state.Result); err != nil {
			return job.State{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return state, nil
}

// UpdateProgress overwrites the progress column.
func (s *StateStore) UpdateProgress(ctx context.Context, jobID string, progress job.Progress) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	now := s.now()
	query := fmt.Sprintf(`
UPDATE %s SET progress = $2, expires_at = $3
WHERE job_id = $1 AND expires_at > $4`, s.table)
	return s.exec(ctx, "update progress", jobID, query, jobID, raw, now.Add(s.retention), now)
}

// UpdateTerminal writes a terminal status. A nil result keeps the stored one.
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
	raw, err := marshalNullable(result, result == nil)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := s.now()
	query := fmt.Sprintf(`
UPDATE %s SET status = $2, result = COALESCE($3::jsonb, result), error = $4, expires_at = $5
WHERE job_id = $1 AND expires_at > $6`, s.table)
	return s.exec(ctx, "update terminal", jobID, query, jobID, string(status), raw, errMsg, now.Add(s.retention), now)
}

// RequestCancellation flips running to cancelling in one statement.
func (s *StateStore) RequestCancellation(ctx context.Context, jobID string) error {
	now := s.now()
	query := fmt.Sprintf(`
UPDATE %s SET status = CASE WHEN status = 'running' THEN 'cancelling' ELSE status END, expires_at = $2
WHERE job_id = $1 AND expires_at > $3`, s.table)
	return s.exec(ctx, "request cancellation", jobID, query, jobID, now.Add(s.retention), now)
}

// DeleteExpired removes rows past their expiry.
func (s *StateStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases the pool.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *StateStore) exec(ctx context.Context, op, jobID, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFound
	}
	return nil
}

func marshalNullable(v any, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Counter is a fixed-window rate limit counter stored one row per identity.
type Counter struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewCounter constructs a Counter.
func NewCounter(pool Pool, table string) (*Counter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "rate_limits")
	if err != nil {
		return nil, err
	}
	return &Counter{pool: pool, table: name, now: time.Now}, nil
}

// EnsureSchema creates the table when missing.
func (c *Counter) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	key          TEXT PRIMARY KEY,
	window_start BIGINT NOT NULL,
	count        INTEGER NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL
)`, c.table)
	if _, err := c.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", c.table, err)
	}
	return nil
}

// Hit admits or rejects one request in a single conditional upsert. When the
// stored window matches and the count is already at the limit the WHERE clause
// suppresses the update and no row comes back.
func (c *Counter) Hit(ctx context.Context, key string, windowStart int64, limit int, ttl time.Duration) (int, bool, error) {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (key, window_start, count, expires_at)
VALUES ($1, $2, 1, $4)
ON CONFLICT (key) DO UPDATE SET
	count = CASE WHEN %[1]s.window_start = EXCLUDED.window_start THEN %[1]s.count + 1 ELSE 1 END,
	window_start = EXCLUDED.window_start,
	expires_at = EXCLUDED.expires_at
WHERE %[1]s.window_start <> EXCLUDED.window_start OR %[1]s.count < $3
RETURNING count`, c.table)
	var count int
	err := c.pool.QueryRow(ctx, query, key, windowStart, limit, c.now().Add(ttl)).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return limit, false, nil
		}
		return 0, false, fmt.Errorf("rate limit hit %s: %w", key, err)
	}
	return count, true, nil
}

// DeleteExpired removes counters past their expiry.
func (c *Counter) DeleteExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, c.table)
	tag, err := c.pool.Exec(ctx, query, c.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

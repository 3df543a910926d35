package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG is a PostgreSQL-backed tracker. Every transition is a single statement, so
// concurrent instances sharing the table cannot lose increments.
type PG struct {
	pool   pgxQuerier
	policy Policy
	audit  *audit.Logger
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed tracker.
func NewPG(pool *pgxpool.Pool, p Policy, aud *audit.Logger) *PG {
	return NewPGWithQuerier(pool, p, aud)
}

// NewPGWithQuerier constructs a PostgreSQL-backed tracker over any querier.
func NewPGWithQuerier(q pgxQuerier, p Policy, aud *audit.Logger) *PG {
	return &PG{pool: q, policy: p.normalized(), audit: aud}
}

// IsLocked implements Tracker.
func (l *PG) IsLocked(ctx context.Context, key string) (bool, error) {
	const q = `SELECT locked_until, locked_until > now() FROM auth_lockout WHERE username=$1`
	var until *time.Time
	var active *bool
	err := l.pool.QueryRow(ctx, q, key).Scan(&until, &active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	}
	if until == nil {
		return false, nil
	}
	if active != nil && *active {
		return true, nil
	}

	const del = `DELETE FROM auth_lockout WHERE username=$1 AND locked_until <= now()`
	if _, err := l.pool.Exec(ctx, del, key); err != nil {
		return false, err
	}
	return false, nil
}

// RecordFailure implements Tracker. An expired lock restarts the count at one.
func (l *PG) RecordFailure(ctx context.Context, key string) (bool, error) {
	const q = `
INSERT INTO auth_lockout AS l (username, fail_count, locked_until, updated_at)
VALUES ($1, 1, CASE WHEN $2 <= 1 THEN now() + make_interval(secs => $3) END, now())
ON CONFLICT (username) DO UPDATE
SET
  fail_count = CASE
    WHEN l.locked_until IS NOT NULL AND l.locked_until <= now() THEN 1
    ELSE l.fail_count + 1 END,
  locked_until = CASE
    WHEN l.locked_until IS NOT NULL AND l.locked_until <= now() THEN
      CASE WHEN $2 <= 1 THEN now() + make_interval(secs => $3) END
    WHEN l.fail_count + 1 = $2 THEN now() + make_interval(secs => $3)
    ELSE l.locked_until END,
  updated_at = now()
RETURNING fail_count, locked_until`
	var fails int
	var until *time.Time
	secs := l.policy.LockFor.Seconds()
	if err := l.pool.QueryRow(ctx, q, key, l.policy.Threshold, secs).Scan(&fails, &until); err != nil {
		return false, err
	}
	if fails != l.policy.Threshold || until == nil {
		return false, nil
	}
	l.audit.Lockout(ctx, key, fails, *until)
	return true, nil
}

// RecordSuccess implements Tracker.
func (l *PG) RecordSuccess(ctx context.Context, key string) error {
	const q = `DELETE FROM auth_lockout WHERE username=$1`
	_, err := l.pool.Exec(ctx, q, key)
	return err
}

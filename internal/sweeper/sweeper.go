// Package sweeper deletes long-dead refresh token rows in the background.
//
// The session service only ever revokes records; physical deletion is a
// retention concern handled here, after an audit grace period.
package sweeper

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Sweeper periodically removes refresh token rows that have been expired or
// revoked for longer than the retention window.
type Sweeper struct {
	pool      Executor
	retention time.Duration
	log       *zap.Logger
}

// Executor is the single pool method the sweeper needs. It is satisfied by
// *pgxpool.Pool and by the repository pool abstraction.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// New constructs a sweeper over a connection pool.
func New(pool Executor, retention time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{pool: pool, retention: retention, log: log}
}

// SweepOnce deletes rows whose expiry or revocation is older than the
// retention window and reports how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	const q = `
DELETE FROM refresh_tokens
WHERE expires_at < now() - $1::interval
   OR (revoked_at IS NOT NULL AND revoked_at < now() - $1::interval)`
	tag, err := s.pool.Exec(ctx, q, s.retention)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Run sweeps on the given interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Warn("refresh token sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("swept dead refresh tokens", zap.Int64("rows", n))
			}
		}
	}
}

package postgres

import (
	"context"
	"errors"

	"github.com/and161185/ident/internal/errs"
	"github.com/and161185/ident/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RefreshRepo implements RefreshTokenRepository using PostgreSQL.
type RefreshRepo struct{ db *DB }

// NewRefreshRepo constructs a refresh token repository.
func NewRefreshRepo(db *DB) *RefreshRepo { return &RefreshRepo{db: db} }

const refreshCols = `id, token, user_id, issued_at, expires_at, revoked_at, ip, user_agent`

// Create inserts a new active record. A token string collision means two
// codec issuances produced the same string, which must surface loudly.
func (r *RefreshRepo) Create(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (id, token, user_id, issued_at, expires_at, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, t.ID, t.Token, t.UserID, t.IssuedAt, t.ExpiresAt, t.IP, t.UserAgent)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// Find selects the record for the exact token string regardless of state.
func (r *RefreshRepo) Find(ctx context.Context, token string) (*model.RefreshToken, error) {
	const q = `SELECT ` + refreshCols + ` FROM refresh_tokens WHERE token=$1`
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, token))
}

// FindActive selects the record only while unrevoked and unexpired.
func (r *RefreshRepo) FindActive(ctx context.Context, token string) (*model.RefreshToken, error) {
	const q = `
SELECT ` + refreshCols + `
FROM refresh_tokens
WHERE token=$1 AND revoked_at IS NULL AND expires_at > now()`
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, token))
}

// Consume revokes an active record and returns it in a single conditional
// UPDATE, so concurrent refreshes of the same token serialize on the row:
// exactly one caller observes the active record.
func (r *RefreshRepo) Consume(ctx context.Context, token string) (*model.RefreshToken, error) {
	const q = `
UPDATE refresh_tokens
SET revoked_at = now()
WHERE token=$1 AND revoked_at IS NULL AND expires_at > now()
RETURNING ` + refreshCols
	return scanRefresh(r.db.Pool.QueryRow(ctx, q, token))
}

// Revoke marks the record revoked; already-revoked rows are left untouched.
func (r *RefreshRepo) Revoke(ctx context.Context, token string) error {
	const q = `
UPDATE refresh_tokens
SET revoked_at = now()
WHERE token=$1 AND revoked_at IS NULL`
	_, err := r.db.Pool.Exec(ctx, q, token)
	return err
}

// RevokeAllByUser revokes every active record owned by the user.
func (r *RefreshRepo) RevokeAllByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `
UPDATE refresh_tokens
SET revoked_at = now()
WHERE user_id=$1 AND revoked_at IS NULL`
	tag, err := r.db.Pool.Exec(ctx, q, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListActiveByUser returns the user's active records, newest first.
func (r *RefreshRepo) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error) {
	const q = `
SELECT ` + refreshCols + `
FROM refresh_tokens
WHERE user_id=$1 AND revoked_at IS NULL AND expires_at > now()
ORDER BY issued_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RefreshToken
	for rows.Next() {
		var t model.RefreshToken
		if err := rows.Scan(&t.ID, &t.Token, &t.UserID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt, &t.IP, &t.UserAgent); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanRefresh(row pgx.Row) (*model.RefreshToken, error) {
	var t model.RefreshToken
	err := row.Scan(&t.ID, &t.Token, &t.UserID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt, &t.IP, &t.UserAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

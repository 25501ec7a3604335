package repository

import (
	"context"

	"github.com/and161185/ident/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RefreshTokenRepository persists refresh token records. Records are only
// ever mutated to set revoked_at; the service layer never deletes rows.
type RefreshTokenRepository interface {
	// Create inserts a new active record. A token string collision yields
	// errs.ErrConflict.
	Create(ctx context.Context, t *model.RefreshToken) error

	// Find returns the record for the exact token string in any state, or
	// errs.ErrNotFound.
	Find(ctx context.Context, token string) (*model.RefreshToken, error)

	// FindActive returns the record only while it is unrevoked and unexpired;
	// revoked and expired records are reported as errs.ErrNotFound.
	FindActive(ctx context.Context, token string) (*model.RefreshToken, error)

	// Consume atomically revokes an active record and returns it. Exactly one
	// of any number of concurrent calls for the same token string succeeds;
	// the rest get errs.ErrNotFound. This is the rotation replay guard.
	Consume(ctx context.Context, token string) (*model.RefreshToken, error)

	// Revoke marks the record revoked. Revoking an already-revoked record is
	// a no-op, not an error.
	Revoke(ctx context.Context, token string) error

	// RevokeAllByUser revokes every active record owned by the user and
	// reports how many were affected.
	RevokeAllByUser(ctx context.Context, userID uuid.UUID) (int64, error)

	// ListActiveByUser returns the user's active records, newest first.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error)
}

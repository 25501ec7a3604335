// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/ident/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to principal records.
type UserRepository interface {
	// Create inserts a new user. Duplicate email yields errs.ErrConflict.
	Create(ctx context.Context, u *model.User) error

	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)

	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// TouchLastLogin records a successful login timestamp.
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

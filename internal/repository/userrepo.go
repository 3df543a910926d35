// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/credgate/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides the user reads the engine needs and the one write it makes.
type UserRepository interface {
	// Create inserts a new user. A taken username or email is errs.ErrAlreadyExists.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// UpdatePassword replaces the password record only while the stored version is
	// still from; otherwise it returns errs.ErrVersionConflict.
	UpdatePassword(ctx context.Context, id uuid.UUID, rec model.PasswordRecord, from model.PasswordVersion) error
}

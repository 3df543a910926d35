package postgres

import (
	"context"
	"errors"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, email, first_name, last_name, enabled, roles, password_hash, password_version, mfa_secret, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, email, first_name, last_name, enabled, roles, password_hash, password_version, mfa_secret)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.Enabled,
		u.Roles, u.Password.Hash, int(u.Password.Version), u.MFASecret)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

// GetByEmail selects a user by email, case-insensitively.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email)
}

func (r *UserRepo) getBy(ctx context.Context, q string, arg any) (*model.User, error) {
	row := r.db.Pool.QueryRow(ctx, q, arg)
	var u model.User
	var version int
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.Enabled, &u.Roles,
		&u.Password.Hash, &version, &u.MFASecret, &u.CreatedAt)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, err
	}
	u.Password.Version = model.PasswordVersion(version)
	return &u, nil
}

// UpdatePassword swaps the password record if the stored version still equals from.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, rec model.PasswordRecord, from model.PasswordVersion) error {
	const q = `
UPDATE users
SET password_hash = $2, password_version = $3, updated_at = now()
WHERE id = $1 AND password_version = $4`
	tag, err := r.db.Pool.Exec(ctx, q, id, rec.Hash, int(rec.Version), int(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

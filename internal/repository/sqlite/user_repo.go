// Package sqlite implements UserRepository over a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/migrate"
	"github.com/and161185/credgate/internal/model"
	"github.com/gofrs/uuid/v5"
	_ "modernc.org/sqlite"
)

// UserRepo implements repository.UserRepository using SQLite.
type UserRepo struct{ db *sql.DB }

// Open opens the database at path and applies the bundled migrations.
func Open(ctx context.Context, path string) (*UserRepo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate.UpSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &UserRepo{db: db}, nil
}

// Close releases the database.
func (r *UserRepo) Close() error { return r.db.Close() }

// Ping checks the database is usable.
func (r *UserRepo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

const userColumns = `id, username, email, first_name, last_name, enabled, roles, password_hash, password_version, mfa_secret, created_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, email, first_name, last_name, enabled, roles, password_hash, password_version, mfa_secret, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ms := created.UTC().UnixMilli()
	_, err := r.db.ExecContext(ctx, q, u.ID.String(), u.Username, u.Email, u.FirstName, u.LastName,
		u.Enabled, strings.Join(u.Roles, ","), u.Password.Hash, int(u.Password.Version), u.MFASecret, ms, ms)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

// GetByEmail selects a user by email, case-insensitively.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getBy(ctx, `SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE`, email)
}

func (r *UserRepo) getBy(ctx context.Context, q string, arg any) (*model.User, error) {
	var (
		u       model.User
		id      string
		roles   string
		version int
		created int64
	)
	err := r.db.QueryRowContext(ctx, q, arg).Scan(&id, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.Enabled, &roles, &u.Password.Hash, &version, &u.MFASecret, &created)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, errs.ErrNotFound
	default:
		return nil, err
	}
	if u.ID, err = uuid.FromString(id); err != nil {
		return nil, fmt.Errorf("stored user id: %w", err)
	}
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	u.Password.Version = model.PasswordVersion(version)
	u.CreatedAt = time.UnixMilli(created).UTC()
	return &u, nil
}

// UpdatePassword swaps the password record if the stored version still equals from.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, rec model.PasswordRecord, from model.PasswordVersion) error {
	const q = `
UPDATE users
SET password_hash = ?, password_version = ?, updated_at = ?
WHERE id = ? AND password_version = ?`
	res, err := r.db.ExecContext(ctx, q, rec.Hash, int(rec.Version), time.Now().UTC().UnixMilli(), id.String(), int(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrVersionConflict
	}
	return nil
}

// Package service contains the local credential checks shared by the database
// strategy and the delegation endpoints.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/limiter"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"go.uber.org/zap"
)

// LocalAuth verifies credentials against the local user store.
type LocalAuth struct {
	users     repository.UserRepository
	passwords *PasswordVerifier
	tracker   limiter.Tracker
	log       *zap.Logger
}

// NewLocalAuth constructs LocalAuth with required dependencies.
func NewLocalAuth(users repository.UserRepository, passwords *PasswordVerifier, tracker limiter.Tracker, log *zap.Logger) *LocalAuth {
	return &LocalAuth{users: users, passwords: passwords, tracker: tracker, log: log}
}

// Verified is a successful local check.
type Verified struct {
	User *model.User
	// Version is the scheme the password was checked under, before any migration.
	Version  model.PasswordVersion
	Migrated bool
}

// Verify applies the lockout, checks the password, and migrates the record on success.
// The disabled flag is only reported to callers who presented the right password.
func (a *LocalAuth) Verify(ctx context.Context, username, password string) (*Verified, error) {
	locked, err := a.tracker.IsLocked(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("lockout check: %w", err)
	}
	if locked {
		return nil, errs.ErrAccountLocked
	}

	u, err := a.users.GetByUsername(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, a.fail(ctx, username, errs.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	ok, err := a.passwords.Verify(password, u.Password)
	switch {
	case errors.Is(err, errs.ErrMalformedPassword):
		return nil, a.fail(ctx, username, err)
	case err != nil:
		return nil, fmt.Errorf("verify password: %w", err)
	case !ok:
		return nil, a.fail(ctx, username, errs.ErrInvalidCredentials)
	}

	if !u.Enabled {
		return nil, errs.ErrAccountDisabled
	}

	// Success: reset counters (best-effort).
	if err := a.tracker.RecordSuccess(ctx, username); err != nil {
		a.log.Warn("lockout reset failed", zap.String("user", username), zap.Error(err))
	}

	res := &Verified{User: u, Version: u.Password.Version}
	migrated, err := a.passwords.Migrate(ctx, u, password)
	if err != nil {
		a.log.Warn("password migration failed", zap.String("user", username), zap.Error(err))
	}
	res.Migrated = migrated
	return res, nil
}

// fail records a failed attempt. The attempt that places the lock reports it.
func (a *LocalAuth) fail(ctx context.Context, username string, reason error) error {
	locked, err := a.tracker.RecordFailure(ctx, username)
	if err != nil {
		a.log.Warn("lockout record failed", zap.String("user", username), zap.Error(err))
		return reason
	}
	if locked {
		return fmt.Errorf("%w (after %v)", errs.ErrAccountLocked, reason)
	}
	return reason
}

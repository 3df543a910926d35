// Package mfa provides the second-factor gate applied after primary authentication.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Gate decides whether a user needs a second factor and checks it.
type Gate interface {
	Required(ctx context.Context, username string) (bool, error)
	Verify(ctx context.Context, username, code string) (bool, error)
}

// Off never requires a second factor.
type Off struct{}

func (Off) Required(context.Context, string) (bool, error)       { return false, nil }
func (Off) Verify(context.Context, string, string) (bool, error) { return true, nil }

// SecretStore returns a user's base32 TOTP secret, "" when none is enrolled.
type SecretStore interface {
	MFASecret(ctx context.Context, username string) (string, error)
}

// UserLookup is the part of the user store the gate needs.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

type userSecrets struct{ users UserLookup }

// FromUsers reads secrets from the mfa_secret column of the user store.
func FromUsers(users UserLookup) SecretStore { return userSecrets{users: users} }

func (s userSecrets) MFASecret(ctx context.Context, username string) (string, error) {
	u, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return u.MFASecret, nil
}

// TOTP validates RFC 6238 codes against secrets from a SecretStore.
type TOTP struct {
	secrets SecretStore
	now     func() time.Time
}

// NewTOTP constructs a TOTP gate.
func NewTOTP(s SecretStore) *TOTP { return &TOTP{secrets: s, now: time.Now} }

// Required implements Gate.
func (g *TOTP) Required(ctx context.Context, username string) (bool, error) {
	s, err := g.secrets.MFASecret(ctx, username)
	if errors.Is(err, errs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s != "", nil
}

// Verify implements Gate. One step of clock skew is accepted either way.
func (g *TOTP) Verify(ctx context.Context, username, code string) (bool, error) {
	s, err := g.secrets.MFASecret(ctx, username)
	if err != nil {
		return false, err
	}
	if s == "" {
		return false, nil
	}
	ok, err := totp.ValidateCustom(code, s, g.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Malformed codes are a wrong code, not a failure of the gate.
		return false, nil
	}
	return ok, nil
}

// Check applies g after primary authentication succeeded.
func Check(ctx context.Context, g Gate, username, code string) error {
	need, err := g.Required(ctx, username)
	if err != nil {
		return err
	}
	if !need {
		return nil
	}
	if code == "" {
		return errs.ErrMFARequired
	}
	ok, err := g.Verify(ctx, username, code)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrInvalidMFACode
	}
	return nil
}

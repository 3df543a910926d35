package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/limiter"
	"github.com/and161185/credgate/internal/mfa"
	"github.com/and161185/credgate/internal/model"
	"go.uber.org/zap"
)

// Decoder resolves encrypted credential fields.
type Decoder interface {
	IsEncrypted(value string) bool
	Decrypt(value string) (string, error)
	DecryptCombined(value string) (username, password string, err error)
}

// TokenIssuer issues the session tokens of a successful login.
type TokenIssuer interface {
	IssuePair(id model.Identity) (model.TokenPair, error)
}

// Deps are shared by every strategy.
type Deps struct {
	Codec   Decoder
	Tokens  TokenIssuer
	MFA     mfa.Gate // nil selects mfa.Off
	Tracker limiter.Tracker
	Audit   *audit.Logger
	Log     *zap.Logger
	Now     func() time.Time // nil selects time.Now
}

// base carries the steps all strategies share.
type base struct {
	kind Kind
	Deps
}

func newBase(kind Kind, d Deps) base {
	if d.MFA == nil {
		d.MFA = mfa.Off{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	d.Log = d.Log.With(zap.String("strategy", kind.String()))
	return base{kind: kind, Deps: d}
}

func (b *base) Kind() Kind { return b.kind }

// resolve returns plaintext credentials. A packed blob wins over the separate fields.
// Empty values are rejected here so no backend sees them; an LDAP bind with an
// empty password would succeed as an unauthenticated bind.
func (b *base) resolve(creds model.Credentials) (username, password string, err error) {
	if creds.Packed != "" {
		return b.Codec.DecryptCombined(creds.Packed)
	}
	username, password = creds.Username, creds.Password
	if b.Codec.IsEncrypted(username) {
		if username, err = b.Codec.Decrypt(username); err != nil {
			return "", "", fmt.Errorf("username: %w", err)
		}
	}
	if b.Codec.IsEncrypted(password) {
		if password, err = b.Codec.Decrypt(password); err != nil {
			return "", "", fmt.Errorf("password: %w", err)
		}
	}
	if username == "" || password == "" {
		return "", "", errs.ErrInvalidCredentials
	}
	return username, password, nil
}

// guard refuses locked keys.
func (b *base) guard(ctx context.Context, username string) error {
	locked, err := b.Tracker.IsLocked(ctx, username)
	if err != nil {
		return fmt.Errorf("lockout check: %w", err)
	}
	if locked {
		return errs.ErrAccountLocked
	}
	return nil
}

// reject counts a credential failure and returns reason, or the lock it placed.
func (b *base) reject(ctx context.Context, username string, reason error) error {
	locked, err := b.Tracker.RecordFailure(ctx, username)
	if err != nil {
		b.Log.Warn("lockout record failed", zap.String("user", username), zap.Error(err))
		return reason
	}
	if locked {
		return fmt.Errorf("%w (after %v)", errs.ErrAccountLocked, reason)
	}
	return reason
}

// accept clears the failure count (best-effort).
func (b *base) accept(ctx context.Context, username string) {
	if err := b.Tracker.RecordSuccess(ctx, username); err != nil {
		b.Log.Warn("lockout reset failed", zap.String("user", username), zap.Error(err))
	}
}

// failed audits err and returns it.
func (b *base) failed(ctx context.Context, creds model.Credentials, username string, err error) error {
	if username == "" {
		username = creds.Username
	}
	outcome := audit.OutcomeFailure
	code := errs.Code(err)
	if code == errs.CodeInternal || code == errs.CodeFederationError {
		outcome = audit.OutcomeError
		b.Log.Error("authentication error", zap.String("user", username), zap.Error(err))
	}
	b.Audit.Log(ctx, audit.Event{
		Action:   audit.ActionLogin,
		Outcome:  outcome,
		User:     username,
		Strategy: b.kind.String(),
		Reason:   code,
		Source:   creds.Source,
	})
	return err
}

// finish applies the MFA gate and issues tokens for a verified identity.
func (b *base) finish(ctx context.Context, creds model.Credentials, id model.Identity, meta model.LoginMetadata) (*model.LoginResult, error) {
	if err := mfa.Check(ctx, b.MFA, id.Username, creds.MFACode); err != nil {
		return nil, b.failed(ctx, creds, id.Username, err)
	}
	if len(id.Roles) == 0 {
		id.Roles = []string{model.DefaultRole}
	}
	pair, err := b.Tokens.IssuePair(id)
	if err != nil {
		return nil, b.failed(ctx, creds, id.Username, fmt.Errorf("issue tokens: %w", err))
	}
	meta.AuthProvider = b.kind.String()
	meta.IssuedAt = b.Now().UTC()
	meta.ExpiresAt = pair.ExpiresAt.UTC()

	b.Audit.Log(ctx, audit.Event{
		Action:   audit.ActionLogin,
		Outcome:  audit.OutcomeSuccess,
		User:     id.Username,
		Strategy: b.kind.String(),
		Source:   creds.Source,
	})
	return &model.LoginResult{User: id, Token: pair, Metadata: meta}, nil
}

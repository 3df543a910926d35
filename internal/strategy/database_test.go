package strategy

import (
	"context"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/crypto/credcodec"
	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/mfa"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository/memory"
	"github.com/and161185/credgate/internal/service"
	"github.com/and161185/credgate/internal/token"
	"github.com/gofrs/uuid/v5"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

func newDatabase(t *testing.T, e *env, repo *memory.UserRepo) *Database {
	t.Helper()
	log := zaptest.NewLogger(t)
	pv := service.NewPasswordVerifier(repo, service.PasswordPolicy{Cost: bcrypt.MinCost}, nil, log)
	return NewDatabase(service.NewLocalAuth(repo, pv, e.tracker, log), e.deps)
}

func TestDatabase_EncryptedPassword(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	seedUser(t, repo, "alice", "Secret123!", true)
	s := newDatabase(t, e, repo)

	enc, err := e.codec.Encrypt("Secret123!")
	require.NoError(t, err)
	res, err := s.Authenticate(context.Background(), model.Credentials{Username: "alice", Password: enc, Source: "10.0.0.1"})
	require.NoError(t, err)

	require.Equal(t, "alice", res.User.Username)
	require.Equal(t, []string{"user", "teller"}, res.User.Roles)
	require.Equal(t, "database", res.Metadata.AuthProvider)
	require.Equal(t, model.PasswordV1, res.Metadata.PasswordVersion)
	require.Equal(t, "Bearer", res.Token.TokenType)
	require.WithinDuration(t, time.Now().Add(token.DefaultAccessTTL), res.Metadata.ExpiresAt, time.Minute)

	claims, err := e.tokens.ValidateType(res.Token.AccessToken, token.TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	_, err = e.tokens.ValidateType(res.Token.RefreshToken, token.TypeRefresh)
	require.NoError(t, err)

	require.Equal(t, 1, e.tracker.successes)
	require.Equal(t, []string{""}, e.auditReasons())
}

func TestDatabase_PackedAndPlain(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	seedUser(t, repo, "bob", "pw-bob", true)
	s := newDatabase(t, e, repo)
	ctx := context.Background()

	packed, err := e.codec.Encrypt(credcodec.Pack("0123456789abcdef", "pw-bob", "bob"))
	require.NoError(t, err)
	// The packed blob wins over the separate fields.
	res, err := s.Authenticate(ctx, model.Credentials{Username: "mallory", Password: "x", Packed: packed})
	require.NoError(t, err)
	require.Equal(t, "bob", res.User.Username)

	_, err = s.Authenticate(ctx, model.Credentials{Username: "bob", Password: "pw-bob"})
	require.NoError(t, err)
}

func TestDatabase_Failures(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	seedUser(t, repo, "alice", "Secret123!", true)
	s := newDatabase(t, e, repo)
	ctx := context.Background()

	_, err := s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, model.Credentials{Username: "ghost", Password: "wrong"})
	require.ErrorIs(t, err, errs.ErrUserNotFound)
	require.Equal(t, errs.CodeInvalidCredentials, errs.PublicCode(err))

	_, err = s.Authenticate(ctx, model.Credentials{Username: "alice", Packed: "not-a-ciphertext"})
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidCredentials, errs.PublicCode(err))

	_, err = s.Authenticate(ctx, model.Credentials{Username: "alice"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	require.Equal(t, 2, e.tracker.failures)
	reasons := e.auditReasons()
	require.Len(t, reasons, 4)
	require.Equal(t, errs.CodeInvalidCredentials, reasons[0])
	require.Equal(t, errs.CodeUserNotFound, reasons[1])
}

func TestDatabase_LockTransition(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	seedUser(t, repo, "alice", "Secret123!", true)
	s := newDatabase(t, e, repo)
	e.tracker.failLock = true

	_, err := s.Authenticate(context.Background(), model.Credentials{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, errs.ErrAccountLocked)
	require.Equal(t, []string{errs.CodeAccountLocked}, e.auditReasons())
}

func TestDatabase_MFAGate(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "credgate", AccountName: "carol"})
	require.NoError(t, err)
	rec, err := pkgcrypto.HashWithCost(model.PasswordV1, "pw-carol", bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), &model.User{
		ID: uuid.Must(uuid.NewV4()), Username: "carol", Enabled: true, Password: rec, MFASecret: key.Secret(),
	}))

	e.deps.MFA = mfa.NewTOTP(mfa.FromUsers(repo))
	s := newDatabase(t, e, repo)
	ctx := context.Background()

	_, err = s.Authenticate(ctx, model.Credentials{Username: "carol", Password: "pw-carol"})
	require.ErrorIs(t, err, errs.ErrMFARequired)
	_, err = s.Authenticate(ctx, model.Credentials{Username: "carol", Password: "pw-carol", MFACode: "000000x"})
	require.ErrorIs(t, err, errs.ErrInvalidMFACode)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, model.Credentials{Username: "carol", Password: "pw-carol", MFACode: code})
	require.NoError(t, err)
	require.Zero(t, e.tracker.failures, "MFA failures do not count toward lockout")
}

package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func identity() model.Identity {
	return model.Identity{ID: "42", Username: "alice", Email: "alice@example.com", Roles: []string{"user", "teller"}}
}

func TestNew_RejectsShortSecret(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Secret: []byte("short")})
	require.Error(t, err)
	_, err = New(Config{Secret: testSecret[:31]})
	require.Error(t, err)

	iss, err := New(Config{Secret: testSecret})
	require.NoError(t, err)
	require.Equal(t, DefaultAccessTTL, iss.AccessTTL())
}

func TestIssueAndValidate(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	iss, err := New(Config{Secret: testSecret, Now: func() time.Time { return now }})
	require.NoError(t, err)

	pair, err := iss.IssuePair(identity())
	require.NoError(t, err)
	require.Equal(t, "Bearer", pair.TokenType)
	require.EqualValues(t, 3600, pair.ExpiresIn)
	require.EqualValues(t, 86400, pair.RefreshExpiresIn)
	require.Equal(t, now.Add(time.Hour), pair.ExpiresAt)

	c, err := iss.ValidateType(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "alice", c.Subject)
	require.Equal(t, "42", c.UserID)
	require.Equal(t, "alice@example.com", c.Email)
	require.Equal(t, []string{"user", "teller"}, c.Roles)
	require.Equal(t, DefaultIssuer, c.Issuer)
	require.Equal(t, now.Unix(), c.IssuedAt.Unix())

	_, err = iss.ValidateType(pair.RefreshToken, TypeAccess)
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))
	rc, err := iss.ValidateType(pair.RefreshToken, TypeRefresh)
	require.NoError(t, err)
	require.Equal(t, now.Add(24*time.Hour).Unix(), rc.ExpiresAt.Unix())
}

func TestValidate_Expired(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := now
	iss, err := New(Config{Secret: testSecret, Now: func() time.Time { return clock }})
	require.NoError(t, err)

	tok, _, err := iss.IssueAccess(identity())
	require.NoError(t, err)

	clock = now.Add(time.Hour + time.Second)
	_, err = iss.Validate(tok)
	require.True(t, errors.Is(err, errs.ErrTokenExpired), "got %v", err)
}

func TestValidate_Tampered(t *testing.T) {
	t.Parallel()
	iss, err := New(Config{Secret: testSecret})
	require.NoError(t, err)
	tok, _, err := iss.IssueAccess(identity())
	require.NoError(t, err)

	// Flip one character inside the signature.
	dot := strings.LastIndex(tok, ".")
	sig := []byte(tok[dot+1:])
	if sig[3] == 'A' {
		sig[3] = 'B'
	} else {
		sig[3] = 'A'
	}
	_, err = iss.Validate(tok[:dot+1] + string(sig))
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))

	other, err := New(Config{Secret: []byte("ffffffffffffffffffffffffffffffff")})
	require.NoError(t, err)
	_, err = other.Validate(tok)
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))

	_, err = iss.Validate("garbage")
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))
}

func TestValidate_WrongAlgAndIssuer(t *testing.T) {
	t.Parallel()
	iss, err := New(Config{Secret: testSecret, Issuer: "bank"})
	require.NoError(t, err)

	claims := Claims{Type: TypeAccess, RegisteredClaims: jwt.RegisteredClaims{
		Subject: "alice", Issuer: "bank", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = iss.Validate(hs512)
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))

	claims.Issuer = "elsewhere"
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = iss.Validate(foreign)
	require.True(t, errors.Is(err, errs.ErrTokenInvalid))
}

func TestIssue_EmptySubject(t *testing.T) {
	t.Parallel()
	iss, err := New(Config{Secret: testSecret})
	require.NoError(t, err)
	_, _, err = iss.IssueAccess(model.Identity{})
	require.Error(t, err)
}

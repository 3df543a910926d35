package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository/memory"
	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	accept  map[string]string // dn -> password
	bindErr error

	boundAs []string
	closed  bool
}

func (c *fakeConn) Bind(dn, password string) error {
	c.boundAs = append(c.boundAs, dn)
	if c.bindErr != nil {
		return c.bindErr
	}
	if p, ok := c.accept[dn]; ok && p == password {
		return nil
	}
	return &ldap.Error{ResultCode: ldap.LDAPResultInvalidCredentials, Err: errors.New("invalid credentials")}
}

func (c *fakeConn) Close() { c.closed = true }

func dialTo(c *fakeConn, dialErr error) Dialer {
	return func(context.Context, string, time.Duration) (DirConn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return c, nil
	}
}

func TestLDAP_Bind(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{accept: map[string]string{"uid=alice,ou=users,dc=bank,dc=test": "pw"}}
	s, err := NewLDAP(DirectoryConfig{URL: "ldap://dir:389", BaseDN: "ou=users,dc=bank,dc=test", Dial: dialTo(conn, nil)}, nil, e.deps)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, model.MinimalIdentity("alice"), res.User)
	require.Equal(t, "ldap", res.Metadata.AuthProvider)
	require.True(t, conn.closed)

	_, err = s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "nope"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.Equal(t, 1, e.tracker.failures)
	require.Equal(t, 1, e.tracker.successes)
}

func TestLDAP_EscapesDN(t *testing.T) {
	e := newEnv(t)
	conn := &fakeConn{}
	s, err := NewLDAP(DirectoryConfig{URL: "ldap://dir", BaseDN: "dc=bank", UserAttr: "cn", Dial: dialTo(conn, nil)}, nil, e.deps)
	require.NoError(t, err)

	_, err = s.Authenticate(context.Background(), model.Credentials{Username: "smith+jr, john", Password: "pw"})
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.Equal(t, []string{"cn=smith\\+jr\\, john,dc=bank"}, conn.boundAs)
}

func TestLDAP_Unavailable(t *testing.T) {
	e := newEnv(t)
	cfg := DirectoryConfig{URL: "ldap://dir", BaseDN: "dc=bank", Dial: dialTo(nil, errors.New("connection refused"))}
	s, err := NewLDAP(cfg, nil, e.deps)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "pw"})
	require.ErrorIs(t, err, errs.ErrUpstreamUnavailable)

	busy := &fakeConn{bindErr: &ldap.Error{ResultCode: ldap.LDAPResultBusy, Err: errors.New("busy")}}
	cfg.Dial = dialTo(busy, nil)
	s, err = NewLDAP(cfg, nil, e.deps)
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "pw"})
	require.ErrorIs(t, err, errs.ErrUpstreamUnavailable)
	require.Zero(t, e.tracker.failures)
}

func TestActiveDirectory_ProfileFromStore(t *testing.T) {
	e := newEnv(t)
	repo := memory.NewUserRepo()
	seedUser(t, repo, "alice", "unused", true)
	seedUser(t, repo, "carol", "unused", false)
	conn := &fakeConn{accept: map[string]string{"alice@bank.test": "pw", "carol@bank.test": "pw"}}
	s, err := NewActiveDirectory(DirectoryConfig{URL: "ldaps://ad", Domain: "bank.test", Dial: dialTo(conn, nil)}, repo, e.deps)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, model.Credentials{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	require.Equal(t, "alice@bank.test", res.User.Email)
	require.Equal(t, "active_directory", res.Metadata.AuthProvider)

	_, err = s.Authenticate(ctx, model.Credentials{Username: "carol", Password: "pw"})
	require.ErrorIs(t, err, errs.ErrAccountDisabled)
}

func TestNewDirectory_Validation(t *testing.T) {
	e := newEnv(t)
	_, err := NewLDAP(DirectoryConfig{URL: "ldap://dir"}, nil, e.deps)
	require.Error(t, err)
	_, err = NewActiveDirectory(DirectoryConfig{URL: "ldap://dir"}, nil, e.deps)
	require.Error(t, err)
	_, err = NewActiveDirectory(DirectoryConfig{Domain: "bank.test"}, nil, e.deps)
	require.Error(t, err)
}

package strategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"github.com/go-ldap/ldap/v3"
)

// DefaultDirectoryTimeout bounds the dial and the bind.
const DefaultDirectoryTimeout = 5 * time.Second

// DirConn is the part of an LDAP connection a bind check needs.
type DirConn interface {
	Bind(username, password string) error
	Close()
}

// Dialer opens a directory connection.
type Dialer func(ctx context.Context, url string, timeout time.Duration) (DirConn, error)

type ldapConn struct{ c *ldap.Conn }

func (l ldapConn) Bind(username, password string) error { return l.c.Bind(username, password) }
func (l ldapConn) Close()                               { l.c.Close() }

// DialLDAP dials url with go-ldap.
func DialLDAP(_ context.Context, url string, timeout time.Duration) (DirConn, error) {
	c, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: timeout}))
	if err != nil {
		return nil, err
	}
	c.SetTimeout(timeout)
	return ldapConn{c: c}, nil
}

// DirectoryConfig configures an LDAP or Active Directory bind check.
type DirectoryConfig struct {
	URL string
	// BaseDN and UserAttr build the LDAP bind DN: UserAttr=<user>,BaseDN.
	BaseDN   string
	UserAttr string
	// Domain builds the AD principal: <user>@Domain.
	Domain  string
	Timeout time.Duration
	Dial    Dialer
}

// Directory verifies by binding to a directory as the user.
// Local records, when present, supply the profile and the disabled flag.
type Directory struct {
	base
	cfg       DirectoryConfig
	principal func(username string) string
	users     repository.UserRepository
}

// NewLDAP builds the LDAP strategy. users may be nil.
func NewLDAP(cfg DirectoryConfig, users repository.UserRepository, d Deps) (*Directory, error) {
	if cfg.BaseDN == "" {
		return nil, fmt.Errorf("ldap: base DN is required")
	}
	if cfg.UserAttr == "" {
		cfg.UserAttr = "uid"
	}
	attr, baseDN := cfg.UserAttr, cfg.BaseDN
	return newDirectory(KindLDAP, cfg, users, d, func(u string) string {
		return attr + "=" + ldap.EscapeDN(u) + "," + baseDN
	})
}

// NewActiveDirectory builds the AD strategy. users may be nil.
func NewActiveDirectory(cfg DirectoryConfig, users repository.UserRepository, d Deps) (*Directory, error) {
	if cfg.Domain == "" {
		return nil, fmt.Errorf("active directory: domain is required")
	}
	domain := cfg.Domain
	return newDirectory(KindActiveDirectory, cfg, users, d, func(u string) string {
		if strings.Contains(u, "@") {
			return u
		}
		return u + "@" + domain
	})
}

func newDirectory(kind Kind, cfg DirectoryConfig, users repository.UserRepository, d Deps, principal func(string) string) (*Directory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s: url is required", kind)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDirectoryTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = DialLDAP
	}
	return &Directory{base: newBase(kind, d), cfg: cfg, principal: principal, users: users}, nil
}

func (s *Directory) Authenticate(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	username, password, err := s.resolve(creds)
	if err != nil {
		return nil, s.failed(ctx, creds, "", err)
	}
	if err := s.guard(ctx, username); err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}

	conn, err := s.cfg.Dial(ctx, s.cfg.URL, s.cfg.Timeout)
	if err != nil {
		return nil, s.failed(ctx, creds, username, fmt.Errorf("%w: dial: %v", errs.ErrUpstreamUnavailable, err))
	}
	defer conn.Close()

	if err := conn.Bind(s.principal(username), password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, s.failed(ctx, creds, username, s.reject(ctx, username, errs.ErrInvalidCredentials))
		}
		return nil, s.failed(ctx, creds, username, fmt.Errorf("%w: bind", errs.ErrUpstreamUnavailable))
	}

	id, err := s.profile(ctx, username)
	if err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}
	s.accept(ctx, username)
	return s.finish(ctx, creds, id, model.LoginMetadata{})
}

func (s *Directory) profile(ctx context.Context, username string) (model.Identity, error) {
	if s.users == nil {
		return model.MinimalIdentity(username), nil
	}
	u, err := s.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return model.MinimalIdentity(username), nil
	case err != nil:
		return model.Identity{}, fmt.Errorf("load profile: %w", err)
	case !u.Enabled:
		return model.Identity{}, errs.ErrAccountDisabled
	}
	return u.Identity(), nil
}

// Package httpserver exposes the login, token and delegation endpoints.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/and161185/credgate/internal/audit"
	"github.com/and161185/credgate/internal/delegation"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/repository"
	"github.com/and161185/credgate/internal/service"
	"github.com/and161185/credgate/internal/token"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

// Authenticator routes a login attempt to a backend.
type Authenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials, selector string) (*model.LoginResult, error)
}

// KeySource publishes the credential transport key.
type KeySource interface {
	PublicKeyPEM() string
}

// Tokens validates and issues session tokens.
type Tokens interface {
	ValidateType(raw string, want token.Type) (*token.Claims, error)
	IssuePair(id model.Identity) (model.TokenPair, error)
}

// PeerAuth answers delegated password checks.
type PeerAuth interface {
	Verify(ctx context.Context, username, password string) (*service.Verified, error)
}

// PeerDirectory answers delegated identity lookups.
type PeerDirectory interface {
	Lookup(ctx context.Context, field delegation.LookupField, value string) (*model.Identity, error)
}

// Config wires a Server.
type Config struct {
	Router Authenticator
	Keys   KeySource
	Tokens Tokens
	// Users reloads identities on refresh; nil reuses the refresh token claims.
	Users repository.UserRepository

	// Delegation endpoints are mounted when Signer, PeerAuth and Directory are all set.
	Signer    *delegation.Signer
	PeerAuth  PeerAuth
	Directory PeerDirectory

	// RateLimit is requests per second per client address on /login and /remote; 0 disables.
	RateLimit  rate.Limit
	Burst      int
	TrustProxy bool

	Audit *audit.Logger
	Log   *zap.Logger
	Now   func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	limits  *ipLimiter
	handler http.Handler
}

// New validates cfg and builds the route table.
func New(cfg Config) (*Server, error) {
	if cfg.Router == nil || cfg.Keys == nil || cfg.Tokens == nil {
		return nil, errors.New("httpserver: router, keys and tokens are required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limits = newIPLimiter(cfg.RateLimit, burst)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// DelegationEnabled reports whether /remote routes are mounted.
func (s *Server) DelegationEnabled() bool {
	return s.cfg.Signer != nil && s.cfg.PeerAuth != nil && s.cfg.Directory != nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /public-key", s.handlePublicKey)
	mux.Handle("POST /login", s.throttle(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /login/{strategy}", s.throttle(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /token/refresh", s.handleRefresh)
	mux.HandleFunc("GET /me", s.requireAccess(s.handleMe))

	if s.DelegationEnabled() {
		signed := delegation.RequireSignature(s.cfg.Signer, s.cfg.Now, s.cfg.Audit, s.cfg.Log)
		mux.Handle("GET "+delegation.PathUsers, s.throttle(signed(http.HandlerFunc(s.handleRemoteUsers))))
		mux.Handle("POST "+delegation.PathLogin, s.throttle(signed(http.HandlerFunc(s.handleRemoteLogin))))
	}

	var h http.Handler = mux
	h = recoverer(s.cfg.Log)(h)
	h = logging(s.cfg.Log)(h)
	return requestID(h)
}

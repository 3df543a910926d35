package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/and161185/credgate/internal/service"
)

const (
	DefaultExternalTimeout = 10 * time.Second
	maxRecordBytes         = 64 << 10
)

// ExternalConfig points at a user-record API.
type ExternalConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client // nil builds one with Timeout
}

// externalRecord is the body of GET {base}/users/{username}.
type externalRecord struct {
	model.Identity
	PasswordHash    string `json:"passwordHash"`
	PasswordVersion int    `json:"passwordVersion"`
}

// ExternalAPI fetches the user's hash record from an HTTP API and verifies locally.
type ExternalAPI struct {
	base
	baseURL   string
	apiKey    string
	hc        *http.Client
	passwords *service.PasswordVerifier
}

func NewExternalAPI(cfg ExternalConfig, passwords *service.PasswordVerifier, d Deps) (*ExternalAPI, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("external api: invalid base url %q", cfg.BaseURL)
	}
	hc := cfg.Client
	if hc == nil {
		if cfg.Timeout <= 0 {
			cfg.Timeout = DefaultExternalTimeout
		}
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &ExternalAPI{
		base:      newBase(KindExternalAPI, d),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		hc:        hc,
		passwords: passwords,
	}, nil
}

func (s *ExternalAPI) Authenticate(ctx context.Context, creds model.Credentials) (*model.LoginResult, error) {
	username, password, err := s.resolve(creds)
	if err != nil {
		return nil, s.failed(ctx, creds, "", err)
	}
	if err := s.guard(ctx, username); err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}

	rec, err := s.fetch(ctx, username)
	if errors.Is(err, errs.ErrUserNotFound) {
		return nil, s.failed(ctx, creds, username, s.reject(ctx, username, err))
	}
	if err != nil {
		return nil, s.failed(ctx, creds, username, err)
	}

	pw := model.PasswordRecord{Hash: rec.PasswordHash, Version: model.PasswordVersion(rec.PasswordVersion)}
	ok, err := s.passwords.Verify(password, pw)
	switch {
	case errors.Is(err, errs.ErrMalformedPassword):
		return nil, s.failed(ctx, creds, username, s.reject(ctx, username, err))
	case err != nil:
		return nil, s.failed(ctx, creds, username, fmt.Errorf("verify password: %w", err))
	case !ok:
		return nil, s.failed(ctx, creds, username, s.reject(ctx, username, errs.ErrInvalidCredentials))
	}
	if !rec.Enabled {
		return nil, s.failed(ctx, creds, username, errs.ErrAccountDisabled)
	}
	s.accept(ctx, username)

	id := rec.Identity
	if id.Username == "" {
		id.Username = username
	}
	return s.finish(ctx, creds, id, model.LoginMetadata{PasswordVersion: pw.Version})
}

func (s *ExternalAPI) fetch(ctx context.Context, username string) (*externalRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/users/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errs.ErrUserNotFound
	default:
		return nil, fmt.Errorf("%w: user api status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var rec externalRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRecordBytes)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode user record: %v", errs.ErrUpstreamUnavailable, err)
	}
	return &rec, nil
}

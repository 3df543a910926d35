package delegation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Endpoint paths served by the directory side.
const (
	PathUsers = "/remote/users"
	PathLogin = "/remote/login"
)

// DefaultTimeout bounds every outbound call.
const DefaultTimeout = 10 * time.Second

// LookupField selects the attribute a remote lookup matches on.
type LookupField string

const (
	ByUsername LookupField = "username"
	ByEmail    LookupField = "email"
	ByID       LookupField = "id"
)

// Valid reports whether f is a supported field.
func (f LookupField) Valid() bool { return f == ByUsername || f == ByEmail || f == ByID }

// LoginRequest is the body of POST /remote/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the success body of POST /remote/login.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
	Message  string `json:"message,omitempty"`
}

// Client calls a peer directory with signed requests. It never retries.
type Client struct {
	base   string
	signer *Signer
	hc     *http.Client
	now    func() time.Time
	log    *zap.Logger
}

// NewClient constructs a client for the peer at baseURL. timeout <= 0 selects DefaultTimeout.
func NewClient(baseURL string, signer *Signer, timeout time.Duration, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid peer url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		signer: signer,
		hc:     &http.Client{Timeout: timeout},
		now:    time.Now,
		log:    log,
	}, nil
}

// LookupUser fetches the public identity matching field=value.
// A missing user is errs.ErrUserNotFound.
func (c *Client) LookupUser(ctx context.Context, field LookupField, value string) (*model.Identity, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}
	q := url.Values{}
	q.Set(string(field), value)
	resp, err := c.do(ctx, http.MethodGet, PathUsers+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var id model.Identity
		if err := json.NewDecoder(io.LimitReader(resp.Body, MaxBodyBytes)).Decode(&id); err != nil {
			return nil, fmt.Errorf("%w: decode user: %v", errs.ErrUpstreamUnavailable, err)
		}
		return &id, nil
	case http.StatusNotFound:
		return nil, errs.ErrUserNotFound
	default:
		return nil, fmt.Errorf("%w: lookup status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	}
}

// ValidatePassword asks the peer whether the pair is valid. A definite "no" is (false, nil).
func (c *Client) ValidatePassword(ctx context.Context, username, password string) (bool, error) {
	body, err := json.Marshal(LoginRequest{Username: username, Password: password})
	if err != nil {
		return false, err
	}
	resp, err := c.do(ctx, http.MethodPost, PathLogin, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxBodyBytes))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized:
		if resp.Header.Get(HeaderRejected) != "" {
			return false, fmt.Errorf("%w: peer rejected our signature", errs.ErrUpstreamUnavailable)
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: login status %d", errs.ErrUpstreamUnavailable, resp.StatusCode)
	}
}

func (c *Client) do(ctx context.Context, method, uri string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	rid, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	ts := Timestamp(c.now())
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, c.signer.Sign(method, req.URL.RequestURI(), string(body), ts))
	req.Header.Set(HeaderRequestID, rid.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warn("peer call failed",
			zap.String("method", method),
			zap.String("path", req.URL.Path),
			zap.String("request_id", rid.String()),
			zap.Duration("dur", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", errs.ErrUpstreamUnavailable, err)
	}
	c.log.Debug("peer call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", rid.String()),
		zap.Duration("dur", time.Since(start)),
	)
	return resp, nil
}

package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/and161185/credgate/internal/model"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: code=%s msg=%s", e.Status, e.Code, e.Message)
}

type loginRequest struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Credentials string `json:"credentials,omitempty"`
	MFACode     string `json:"mfaCode,omitempty"`
}

type loginResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message"`
	User     model.Identity      `json:"user"`
	Token    model.TokenPair     `json:"token"`
	Metadata model.LoginMetadata `json:"metadata"`
}

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(addr string, tc *tls.Config) (*apiClient, error) {
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", addr)
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tc
	return &apiClient{
		base: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Transport: tr, Timeout: 30 * time.Second},
	}, nil
}

func (c *apiClient) publicKey(ctx context.Context) (string, error) {
	var out struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.call(ctx, http.MethodGet, "/public-key", "", nil, &out); err != nil {
		return "", err
	}
	return out.PublicKey, nil
}

func (c *apiClient) login(ctx context.Context, authType string, req loginRequest) (*loginResponse, error) {
	path := "/login"
	if authType != "" {
		path += "/" + url.PathEscape(authType)
	}
	var out loginResponse
	if err := c.call(ctx, http.MethodPost, path, "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	var out struct {
		Token model.TokenPair `json:"token"`
	}
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.call(ctx, http.MethodPost, "/token/refresh", "", body, &out); err != nil {
		return model.TokenPair{}, err
	}
	return out.Token, nil
}

func (c *apiClient) me(ctx context.Context, accessToken string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/me", accessToken, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *apiClient) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func decodeAPIError(status int, raw []byte) error {
	var f struct {
		ErrorCode string `json:"errorCode"`
		Message   string `json:"message"`
		Error     string `json:"error"`
	}
	e := &apiError{Status: status}
	if json.Unmarshal(raw, &f) == nil {
		e.Code, e.Message = f.ErrorCode, choose(f.Message, f.Error)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}
	return e
}

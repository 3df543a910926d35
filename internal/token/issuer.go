// Package token issues and validates HS256 session tokens.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLen is the shortest accepted HMAC secret (256 bits).
const MinSecretLen = 32

// Defaults.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 24 * time.Hour
	DefaultIssuer     = "credgate"
)

// Type distinguishes access from refresh tokens.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// Claims is the token payload.
type Claims struct {
	Roles  []string `json:"roles,omitempty"`
	UserID string   `json:"userId,omitempty"`
	Email  string   `json:"email,omitempty"`
	Type   Type     `json:"type"`
	jwt.RegisteredClaims
}

// Config configures an Issuer.
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time // optional clock
}

// Issuer signs and validates tokens. It is safe for concurrent use.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// New returns an Issuer. It fails when the secret is shorter than MinSecretLen.
func New(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes, got %d", MinSecretLen, len(cfg.Secret))
	}
	iss := &Issuer{
		secret:     append([]byte(nil), cfg.Secret...),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}
	if iss.issuer == "" {
		iss.issuer = DefaultIssuer
	}
	if iss.accessTTL <= 0 {
		iss.accessTTL = DefaultAccessTTL
	}
	if iss.refreshTTL <= 0 {
		iss.refreshTTL = DefaultRefreshTTL
	}
	if iss.now == nil {
		iss.now = time.Now
	}
	return iss, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssueAccess creates an access token for id.
func (i *Issuer) IssueAccess(id model.Identity) (string, time.Time, error) {
	return i.issue(id, TypeAccess, i.accessTTL)
}

// IssueRefresh creates a refresh token for id.
func (i *Issuer) IssueRefresh(id model.Identity) (string, time.Time, error) {
	return i.issue(id, TypeRefresh, i.refreshTTL)
}

// IssuePair creates both tokens.
func (i *Issuer) IssuePair(id model.Identity) (model.TokenPair, error) {
	access, exp, err := i.IssueAccess(id)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, _, err := i.IssueRefresh(id)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(i.accessTTL / time.Second),
		RefreshExpiresIn: int64(i.refreshTTL / time.Second),
		ExpiresAt:        exp,
	}, nil
}

func (i *Issuer) issue(id model.Identity, typ Type, ttl time.Duration) (string, time.Time, error) {
	if id.Username == "" {
		return "", time.Time{}, errors.New("token subject is empty")
	}
	now := i.now()
	exp := now.Add(ttl)
	claims := Claims{
		Roles:  id.Roles,
		UserID: id.ID,
		Email:  id.Email,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	return signed, exp, err
}

// Validate parses and verifies a token of any type.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", errs.ErrTokenInvalid)
	}
	return claims, nil
}

// ValidateType is Validate plus a check on the token type.
func (i *Issuer) ValidateType(raw string, want Type) (*Claims, error) {
	claims, err := i.Validate(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, fmt.Errorf("%w: type %q, want %q", errs.ErrTokenInvalid, claims.Type, want)
	}
	return claims, nil
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %v", errs.ErrTokenExpired, err)
	}
	return fmt.Errorf("%w: %v", errs.ErrTokenInvalid, err)
}

// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// PasswordVersion identifies the hashing scheme of a stored password.
type PasswordVersion int

const (
	// PasswordV1 is bcrypt over the plaintext password.
	PasswordV1 PasswordVersion = 1
	// PasswordV2 is bcrypt over the hex SHA-256 pre-digest of the password.
	PasswordV2 PasswordVersion = 2
)

// Valid reports whether v is a known scheme.
func (v PasswordVersion) Valid() bool { return v == PasswordV1 || v == PasswordV2 }

// PasswordRecord is a stored password hash together with its scheme.
type PasswordRecord struct {
	Hash    string
	Version PasswordVersion
}

// User represents an account in the local store.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	Email     string    // unique
	FirstName string
	LastName  string
	Enabled   bool
	Roles     []string
	Password  PasswordRecord
	MFASecret string // base32 TOTP secret, empty when MFA is off
	CreatedAt time.Time
}

// Identity returns the public projection of u.
func (u *User) Identity() Identity {
	return Identity{
		ID:        u.ID.String(),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Enabled:   u.Enabled,
		Roles:     append([]string(nil), u.Roles...),
	}
}

// DefaultRole is granted to identities that carry no roles of their own.
const DefaultRole = "user"

// Identity is what the engine exposes about a user: tokens, login responses and
// remote lookups. It never carries password material.
type Identity struct {
	ID        string   `json:"id,omitempty"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Enabled   bool     `json:"enabled"`
	Roles     []string `json:"roles"`
}

// MinimalIdentity is used when a non-local backend verified a user the local store does not know.
func MinimalIdentity(username string) Identity {
	return Identity{Username: username, Enabled: true, Roles: []string{DefaultRole}}
}

// Credentials is a single login attempt as received by the router.
type Credentials struct {
	Username string
	Password string
	Packed   string // base64 RSA ciphertext of KEY|PASSWORD|USERNAME, optional
	MFACode  string
	Source   string // client address, for audit
}

// TokenPair collects issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresIn        int64     `json:"expiresIn"`        // seconds
	RefreshExpiresIn int64     `json:"refreshExpiresIn"` // seconds
	ExpiresAt        time.Time `json:"-"`                // access token expiry
}

// LoginMetadata describes how a login was verified.
type LoginMetadata struct {
	AuthProvider    string          `json:"authProvider"`
	IssuedAt        time.Time       `json:"issuedAt"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	PasswordVersion PasswordVersion `json:"passwordVersion,omitempty"`
}

// LoginResult is returned by every strategy on success.
type LoginResult struct {
	User     Identity
	Token    TokenPair
	Metadata LoginMetadata
}

// LockoutState is a snapshot of a lockout entry.
type LockoutState struct {
	Key            string
	FailedAttempts int
	LockedUntil    *time.Time
}

// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Storage sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a guarded update lost (stored version differs from the expected one).
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// Authentication outcomes.
var (
	// ErrUnsupportedAuthType indicates the selector does not name a registered strategy.
	ErrUnsupportedAuthType = errors.New("unsupported auth type")

	// ErrUserNotFound indicates the identity source has no such user.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials indicates a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled indicates the account exists but may not log in.
	ErrAccountDisabled = errors.New("account disabled")

	// ErrAccountLocked indicates the lockout tracker currently blocks the key.
	ErrAccountLocked = errors.New("account locked")

	// ErrMFARequired indicates primary authentication passed but a second factor is missing.
	ErrMFARequired = errors.New("mfa required")

	// ErrInvalidMFACode indicates a wrong second factor.
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// ErrUpstreamUnavailable indicates a backend could not reach its identity source.
	// It is transient and never means the credentials were wrong.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Credential transport and hashing.
var (
	// ErrDecryption indicates an encrypted field could not be decoded or decrypted.
	ErrDecryption = errors.New("decryption failed")

	// ErrMalformedCredentialFormat indicates a packed credential blob is not KEY|PASSWORD|USERNAME.
	ErrMalformedCredentialFormat = errors.New("malformed credential format")

	// ErrMalformedPassword indicates a V2 record was checked against an input that is not a hex digest.
	ErrMalformedPassword = errors.New("malformed password input")
)

// Delegation and tokens.
var (
	// ErrSignatureInvalid indicates missing signature headers or a signature mismatch.
	ErrSignatureInvalid = errors.New("invalid signature")

	// ErrRequestExpired indicates a signed request outside the acceptance window.
	ErrRequestExpired = errors.New("request expired")

	// ErrTokenExpired indicates an otherwise valid token past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates a token that fails parsing, signature or claim checks.
	ErrTokenInvalid = errors.New("token invalid")
)

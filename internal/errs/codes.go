package errs

import "errors"

// Reason codes reported to clients and the audit stream.
const (
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeInvalidCredentials   = "INVALID_CREDENTIALS"
	CodeAccountDisabled      = "ACCOUNT_DISABLED"
	CodeAccountLocked        = "ACCOUNT_LOCKED"
	CodeUnsupportedAuthType  = "UNSUPPORTED_AUTH_TYPE"
	CodeFederationError      = "FEDERATION_ERROR"
	CodeMFARequired          = "MFA_REQUIRED"
	CodeInvalidMFACode       = "INVALID_MFA_CODE"
	CodeDecryptionFailed     = "DECRYPTION_FAILED"
	CodeMalformedCredentials = "MALFORMED_CREDENTIALS"
	CodeMalformedPassword    = "MALFORMED_PASSWORD"
	CodeInternal             = "INTERNAL_ERROR"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUserNotFound, CodeUserNotFound},
	{ErrNotFound, CodeUserNotFound},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrAccountDisabled, CodeAccountDisabled},
	{ErrAccountLocked, CodeAccountLocked},
	{ErrUnsupportedAuthType, CodeUnsupportedAuthType},
	{ErrUpstreamUnavailable, CodeFederationError},
	{ErrMFARequired, CodeMFARequired},
	{ErrInvalidMFACode, CodeInvalidMFACode},
	{ErrDecryption, CodeDecryptionFailed},
	{ErrMalformedCredentialFormat, CodeMalformedCredentials},
	{ErrMalformedPassword, CodeMalformedPassword},
}

// Code returns the precise reason code for err, CodeInternal if none matches.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// PublicCode returns the code safe to show a caller. Reasons that would let a caller
// probe for usernames or for the transport format collapse into CodeInvalidCredentials.
func PublicCode(err error) string {
	switch c := Code(err); c {
	case CodeUserNotFound, CodeDecryptionFailed, CodeMalformedCredentials, CodeMalformedPassword:
		return CodeInvalidCredentials
	default:
		return c
	}
}

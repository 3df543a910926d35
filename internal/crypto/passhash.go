// Package crypto implements server-side password hashing and verification.
//
// Two schemes are supported. V1 is bcrypt over the plaintext. V2 is bcrypt over the
// lowercase hex SHA-256 of the plaintext, computed by the client before transport.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// DigestLen is the length of a hex SHA-256 pre-digest.
const DigestLen = 2 * sha256.Size

// DefaultCost is the bcrypt cost used by Hash.
const DefaultCost = 12

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// PreDigest returns the lowercase hex SHA-256 of password.
func PreDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// IsDigest reports whether s looks like a PreDigest output (64 hex chars, any case).
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Hash produces a record for input under the given scheme at DefaultCost.
// For V2, input must already be a pre-digest.
func Hash(version model.PasswordVersion, input string) (model.PasswordRecord, error) {
	return HashWithCost(version, input, DefaultCost)
}

// HashWithCost is Hash with an explicit bcrypt cost.
func HashWithCost(version model.PasswordVersion, input string, cost int) (model.PasswordRecord, error) {
	switch version {
	case model.PasswordV1:
	case model.PasswordV2:
		if !IsDigest(input) {
			return model.PasswordRecord{}, errs.ErrMalformedPassword
		}
	default:
		return model.PasswordRecord{}, fmt.Errorf("unknown password version %d", version)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(input), cost)
	if err != nil {
		return model.PasswordRecord{}, err
	}
	return model.PasswordRecord{Hash: string(h), Version: version}, nil
}

// Verify checks input against rec. A wrong password is (false, nil).
// A V2 record checked against a non-digest input returns errs.ErrMalformedPassword
// without running bcrypt.
func Verify(input string, rec model.PasswordRecord) (bool, error) {
	switch rec.Version {
	case model.PasswordV1:
	case model.PasswordV2:
		if !IsDigest(input) {
			return false, errs.ErrMalformedPassword
		}
	default:
		return false, fmt.Errorf("unknown password version %d", rec.Version)
	}

	err := bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(input))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("stored hash: %w", err)
	}
}

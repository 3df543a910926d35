// Package delegation implements the signed request protocol a peer host uses to
// ask this service whether a credential pair is valid.
//
// A request is signed as base64(HMAC-SHA256(secret, METHOD|URL|BODY|TIMESTAMP)),
// where URL is the request URI (path and raw query) and TIMESTAMP is unix seconds.
package delegation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/and161185/credgate/internal/errs"
)

// Header names.
const (
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderRequestID = "X-Request-ID"

	// HeaderRejected marks a 401 caused by the signature check rather than by the credentials.
	HeaderRejected = "X-Signature-Rejected"
)

// DefaultWindow is how far a request timestamp may drift from the verifier's clock.
const DefaultWindow = 300 * time.Second

// MinSecretLen is the shortest accepted shared secret.
const MinSecretLen = 32

// Signer holds the shared secret. It is safe for concurrent use.
type Signer struct {
	secret []byte
	window time.Duration
}

// NewSigner constructs a Signer. window <= 0 selects DefaultWindow.
func NewSigner(secret []byte, window time.Duration) (*Signer, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("delegation secret must be at least %d bytes", MinSecretLen)
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Signer{secret: append([]byte(nil), secret...), window: window}, nil
}

// Sign returns the signature of a request.
func (s *Signer) Sign(method, url, body, timestamp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(method + "|" + url + "|" + body + "|" + timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Timestamp formats t as the protocol expects.
func Timestamp(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }

// Verify checks the timestamp window first and then the signature in constant time.
func (s *Signer) Verify(method, url, body, timestamp, signature string, now time.Time) error {
	if timestamp == "" || signature == "" {
		return fmt.Errorf("%w: missing headers", errs.ErrSignatureInvalid)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", errs.ErrSignatureInvalid)
	}
	// Whole seconds; time.Duration saturates for far-off timestamps.
	w := int64(s.window / time.Second)
	if d := now.Unix() - ts; d > w || d < -w {
		return errs.ErrRequestExpired
	}

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", errs.ErrSignatureInvalid)
	}
	want, _ := base64.StdEncoding.DecodeString(s.Sign(method, url, body, timestamp))
	if !hmac.Equal(got, want) {
		return errs.ErrSignatureInvalid
	}
	return nil
}

// IsRejection reports whether err came from Verify.
func IsRejection(err error) bool {
	return errors.Is(err, errs.ErrSignatureInvalid) || errors.Is(err, errs.ErrRequestExpired)
}

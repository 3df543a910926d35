// Package credcodec decodes credentials that clients encrypt with the server's RSA public key.
//
// Fields are RSA PKCS#1 v1.5 ciphertexts in standard base64. A packed blob carries
// KEY-CONTEXT|PASSWORD|USERNAME in a single ciphertext.
package credcodec

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/and161185/credgate/internal/errs"
)

// DefaultBits is the modulus size of generated keys.
const DefaultBits = 2048

// minEncryptedLen is the shortest string treated as a possible ciphertext.
const minEncryptedLen = 100

const packedSep = "|"

// KeyPair is an immutable RSA key handle.
type KeyPair struct {
	priv   *rsa.PrivateKey
	pubPEM string
}

// GenerateKeyPair creates a fresh key pair of the given size.
func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return NewKeyPair(priv)
}

// NewKeyPair wraps an existing private key.
func NewKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	if priv == nil {
		return nil, errors.New("nil private key")
	}
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	// pem.Encode wraps the body at 64 columns.
	p := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return &KeyPair{priv: priv, pubPEM: string(p)}, nil
}

// ParsePrivateKeyPEM loads a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs1 key: %w", err)
		}
		return NewKeyPair(priv)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 key: %w", err)
		}
		priv, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("pkcs8 key is %T, want RSA", k)
		}
		return NewKeyPair(priv)
	default:
		return nil, fmt.Errorf("unexpected PEM block %q", block.Type)
	}
}

// PrivateKeyPEM encodes the private key as PKCS#8 PEM.
func (kp *KeyPair) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// Codec detects and decrypts encrypted credential fields.
type Codec struct {
	keys atomic.Pointer[KeyPair]
}

// New constructs a Codec over kp.
func New(kp *KeyPair) *Codec {
	c := &Codec{}
	c.keys.Store(kp)
	return c
}

// Rotate replaces the key pair. Ciphertexts made for the old key stop decrypting.
func (c *Codec) Rotate(kp *KeyPair) { c.keys.Store(kp) }

// PublicKeyPEM returns the current public key as PKIX PEM.
func (c *Codec) PublicKeyPEM() string { return c.keys.Load().pubPEM }

// IsEncrypted reports whether value looks like a ciphertext for the current key:
// at least minEncryptedLen characters of standard base64 that decode to exactly one block.
// Anything else is treated as plaintext.
func (c *Codec) IsEncrypted(value string) bool {
	if len(value) < minEncryptedLen {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	return len(raw) == c.keys.Load().priv.Size()
}

// Decrypt decodes and decrypts a single field.
func (c *Codec) Decrypt(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", errs.ErrDecryption, err)
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, c.keys.Load().priv, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	return string(plain), nil
}

// DecryptCombined decrypts a packed blob and returns its username and password.
func (c *Codec) DecryptCombined(value string) (username, password string, err error) {
	plain, err := c.Decrypt(value)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(plain, packedSep)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("%w: %d fields", errs.ErrMalformedCredentialFormat, len(parts))
	}
	password, username = parts[1], parts[2]
	if username == "" || password == "" {
		return "", "", fmt.Errorf("%w: empty field", errs.ErrMalformedCredentialFormat)
	}
	return username, password, nil
}

// Encrypt encrypts plaintext with the current public key and returns standard base64.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	return EncryptWith(&c.keys.Load().priv.PublicKey, plaintext)
}

// EncryptWith is the client half of Decrypt.
func EncryptWith(pub *rsa.PublicKey, plaintext string) (string, error) {
	ct, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Pack joins the fields of a packed blob.
func Pack(keyContext, password, username string) string {
	return keyContext + packedSep + password + packedSep + username
}

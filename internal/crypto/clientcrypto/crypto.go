// Package clientcrypto contains client-side helpers for preparing credentials for transport.
package clientcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	pkgcrypto "github.com/and161185/credgate/internal/crypto"
	"github.com/and161185/credgate/internal/crypto/credcodec"
)

// KeyContextLen is the number of random bytes in a packed blob's key context.
const KeyContextLen = 16

// pkcs1Overhead is the PKCS#1 v1.5 padding size.
const pkcs1Overhead = 11

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// ParsePublicKey parses a PKIX PEM RSA public key as served by /public-key.
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("no PUBLIC KEY block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", key)
	}
	return pub, nil
}

// EncryptField encrypts a single credential field.
func EncryptField(pub *rsa.PublicKey, value string) (string, error) {
	if len(value) > pub.Size()-pkcs1Overhead {
		return "", fmt.Errorf("field too long for key: %d bytes", len(value))
	}
	return credcodec.EncryptWith(pub, value)
}

// PackCredentials builds the single-ciphertext login blob with a random key context.
func PackCredentials(pub *rsa.PublicKey, username, password string) (string, error) {
	kc, err := Rand(KeyContextLen)
	if err != nil {
		return "", err
	}
	return EncryptField(pub, credcodec.Pack(hex.EncodeToString(kc), password, username))
}

// Digest returns the pre-digest a V2 account expects instead of the plaintext.
func Digest(password string) string { return pkgcrypto.PreDigest(password) }

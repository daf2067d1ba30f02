package secrets

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	dErrors "cookieconsent/pkg/domain-errors"
)

// API keys look like "ck.<key id>.<secret>". Base64url never contains '.'.
const (
	keyPrefix   = "ck"
	keySep      = "."
	keyIDBytes  = 9
	secretBytes = 32
)

// Generate creates a cryptographically secure random token of n bytes,
// base64url encoded.
func Generate(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// NewAPIKey mints a raw API key and returns it with its public key ID.
func NewAPIKey() (raw, keyID string, err error) {
	keyID, err = Generate(keyIDBytes)
	if err != nil {
		return "", "", err
	}
	secret, err := Generate(secretBytes)
	if err != nil {
		return "", "", err
	}
	return strings.Join([]string{keyPrefix, keyID, secret}, keySep), keyID, nil
}

// ParseAPIKey extracts the key ID from a raw API key.
func ParseAPIKey(raw string) (string, error) {
	parts := strings.Split(raw, keySep)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "malformed API key")
	}
	return parts[1], nil
}

// Digester computes keyed BLAKE2b-256 digests of API keys. API keys carry
// 256 bits of entropy, so a fast keyed hash is sufficient and keeps
// per-request authentication cheap.
type Digester struct {
	key []byte
}

// NewDigester derives the MAC key from a server-side pepper.
func NewDigester(pepper string) (*Digester, error) {
	if pepper == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "API key pepper cannot be empty")
	}
	sum := blake2b.Sum256([]byte(pepper))
	return &Digester{key: sum[:]}, nil
}

// Digest returns the hex-encoded keyed digest of raw.
func (d *Digester) Digest(raw string) (string, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "API key cannot be empty")
	}
	h, err := blake2b.New256(d.key)
	if err != nil {
		return "", fmt.Errorf("init digest: %w", err)
	}
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks raw against a stored digest in constant time.
func (d *Digester) Verify(raw, digest string) error {
	computed, err := d.Digest(raw)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) != 1 {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid API key")
	}
	return nil
}

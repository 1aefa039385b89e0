package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// randReader is a seam for tests that need to observe or break randomness.
var randReader io.Reader = rand.Reader

// GenerateKey returns a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(randReader, key); err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", ErrEncryption, err)
	}
	return key, nil
}

// ExportKey encodes raw key bytes as standard base64.
func ExportKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ImportKey decodes a base64 key and rejects anything that is not exactly
// KeySize bytes long. URL-safe alphabets are accepted as well because keys
// often travel inside share links.
func ImportKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		key, err = base64.URLEncoding.DecodeString(s)
	}
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFormat, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrKeyFormat, len(key), KeySize)
	}
	return key, nil
}

// HashContent returns the hex SHA-256 digest of b. It is a fingerprint, not a secret.
func HashContent(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

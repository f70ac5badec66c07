package credits

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// keyAAD binds sealed upstream keys to this format version.
var keyAAD = []byte("doorman-credit-key-v1")

// Sealer encrypts upstream API keys at rest. The sealing key derives from
// TOKEN_ENCRYPTION_KEY; without one configured the service stores keys as
// given.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the sealing key from the configured secret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		return nil, fmt.Errorf("credits: empty sealing secret")
	}
	sum := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(sum[:])
	if err != nil {
		return nil, fmt.Errorf("credits: init cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts a key value for storage.
func (s *Sealer) Seal(plain string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credits: nonce: %w", err)
	}
	blob := s.aead.Seal(nonce, nonce, []byte(plain), keyAAD)
	return base64.RawStdEncoding.EncodeToString(blob), nil
}

// Open decrypts a stored key value.
func (s *Sealer) Open(sealed string) (string, error) {
	blob, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("credits: decode sealed key: %w", err)
	}
	if len(blob) < s.aead.NonceSize() {
		return "", fmt.Errorf("credits: sealed key truncated")
	}
	nonce, sealed2 := blob[:s.aead.NonceSize()], blob[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, sealed2, keyAAD)
	if err != nil {
		return "", fmt.Errorf("credits: unseal key: %w", err)
	}
	return string(plain), nil
}

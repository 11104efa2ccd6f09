// Package crypto seals the bot's token file so refresh tokens are not stored
// in plaintext. Sealing is AES-256-GCM; the on-disk form is base64 of
// nonce || ciphertext || auth_tag, which the token store tells apart from
// plain JSON by the leading byte.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealer performs authenticated encryption of token-file payloads with a
// single AES-256 key.
type Sealer struct {
	key []byte // 32 bytes
}

// NewSealer builds a Sealer from a base64-encoded 32-byte key, typically
// TOKEN_ENCRYPTION_KEY generated with `openssl rand -base64 32`.
func NewSealer(base64Key string) (*Sealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("sealing key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid sealing key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid sealing key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext and returns the base64 form written to disk. A
// fresh random nonce is generated per call, so sealing the same payload
// twice yields different outputs.
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("plaintext is empty")
	}
	gcm, err := s.aead()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decodes and decrypts a sealed payload produced by Seal. Tampering,
// truncation, or a wrong key all surface as an authentication failure.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	if sealed == "" {
		return nil, fmt.Errorf("sealed payload is empty")
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("sealed payload: base64 decode failed: %w", err)
	}
	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("sealed payload too short: expected at least %d bytes, got %d", nonceSize, len(raw))
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// Don't expose which GCM check failed.
		return nil, fmt.Errorf("open sealed payload: authentication or integrity check failed")
	}
	return plaintext, nil
}

func (s *Sealer) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

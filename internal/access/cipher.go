package access

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrTokenInvalid covers every cryptographic failure: tampered, malformed,
// expired, or rotated-out blobs. Callers must surface it generically so the
// response never leaks which check failed.
var ErrTokenInvalid = errors.New("access: token is no longer valid")

// payload is the plaintext sealed inside a token blob. It never touches
// durable storage; the live cache entry is the sole source of truth.
type payload struct {
	VehicleID string    `json:"vehicle_id"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Version   int       `json:"version"`
}

// tokenCipher seals and opens token payloads with an AEAD. The sealing key is
// derived from the host-supplied master key (16, 24, or 32 bytes) with
// HKDF-SHA256, so the master key is never used directly as cipher material.
type tokenCipher struct {
	aead cipher.AEAD
}

func newTokenCipher(masterKey []byte) (*tokenCipher, error) {
	switch len(masterKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("access: master key must be 16, 24, or 32 bytes, got %d", len(masterKey))
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("fleetshare/vehicle-access-token"))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, fmt.Errorf("access: key derivation failed: %w", err)
	}

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("access: cipher setup failed: %w", err)
	}
	return &tokenCipher{aead: aead}, nil
}

// seal encrypts the payload and returns a URL-safe base64 blob of
// nonce || ciphertext.
func (c *tokenCipher) seal(p payload) (string, error) {
	plaintext, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// open authenticates and decrypts a blob. Every failure mode collapses into
// ErrTokenInvalid.
func (c *tokenCipher) open(blob string) (payload, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return payload{}, ErrTokenInvalid
	}
	if len(sealed) < c.aead.NonceSize() {
		return payload{}, ErrTokenInvalid
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return payload{}, ErrTokenInvalid
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return payload{}, ErrTokenInvalid
	}
	return p, nil
}

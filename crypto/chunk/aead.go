// Package chunk implements the per-frame AEAD codec: the primitive adapter over
// AES-256-GCM and HMAC-SHA-256, the deterministic associated-data construction, and
// frame serialization.
//
// A frame is the unit of authenticated encryption. Its associated data binds the
// object identifier and the frame index into the tag, so a frame cannot be replayed
// at a different position or under a different object without failing authentication.
package chunk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

const (
	// KeySize is the AEAD key length in bytes (AES-256).
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// NewAESGCM builds an AES-256-GCM AEAD for the given key.
func NewAESGCM(key [KeySize]byte) (cipher.AEAD, error) {
	b, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	a, err := cipher.NewGCM(b)
	if err != nil {
		return nil, err
	}
	if a.NonceSize() != NonceSize {
		return nil, fmt.Errorf("unexpected gcm nonce size: %d", a.NonceSize())
	}
	if a.Overhead() != TagSize {
		return nil, fmt.Errorf("unexpected gcm tag size: %d", a.Overhead())
	}
	return a, nil
}

// HMACSHA256 computes HMAC-SHA-256 over data with the given key.
func HMACSHA256(key []byte, data []byte) [32]byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(data)
	var out [32]byte
	copy(out[:], m.Sum(nil))
	return out
}

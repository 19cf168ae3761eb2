package chunk

import (
	"crypto/rand"

	"github.com/kitsuneislife/keyring-vcm/internal/bin"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

const (
	// HeaderSize is the serialized frame header: index(4) + nonce(12) + tag(16).
	HeaderSize = 4 + NonceSize + TagSize
	// MinFrameBytes is the smallest valid serialized frame: a header plus one
	// ciphertext byte.
	MinFrameBytes = HeaderSize + 1
)

// Frame is one AEAD-sealed unit of a chunked stream.
type Frame struct {
	Index      uint32          // Position in the stream, assigned 0,1,2,...
	Nonce      [NonceSize]byte // Random per-frame GCM nonce.
	Tag        [TagSize]byte   // GCM authentication tag.
	Ciphertext []byte          // Same length as the plaintext it encrypts.
}

// Seal encrypts plaintext as the frame at index under the per-object subkey.
// The nonce is sampled fresh from the OS CSPRNG for every frame.
func Seal(subkey [KeySize]byte, objectID string, index uint32, plaintext []byte) (*Frame, error) {
	if len(plaintext) == 0 {
		return nil, kverrors.Validation("plaintext", "must not be empty")
	}
	aead, err := NewAESGCM(subkey)
	if err != nil {
		return nil, err
	}
	f := &Frame{Index: index}
	if _, err := rand.Read(f.Nonce[:]); err != nil {
		return nil, kverrors.IO("random", err)
	}
	aad := AAD(objectID, index)
	sealed := aead.Seal(nil, f.Nonce[:], plaintext, aad[:])
	n := len(sealed) - TagSize
	f.Ciphertext = sealed[:n]
	copy(f.Tag[:], sealed[n:])
	return f, nil
}

// Open decrypts and authenticates f under the per-object subkey. It fails atomically:
// on tag mismatch no plaintext is released and the error carries the frame index.
func Open(subkey [KeySize]byte, objectID string, f *Frame) ([]byte, error) {
	if len(f.Ciphertext) == 0 {
		return nil, kverrors.Validation("ciphertext", "must not be empty")
	}
	aead, err := NewAESGCM(subkey)
	if err != nil {
		return nil, err
	}
	aad := AAD(objectID, f.Index)
	sealed := make([]byte, 0, len(f.Ciphertext)+TagSize)
	sealed = append(sealed, f.Ciphertext...)
	sealed = append(sealed, f.Tag[:]...)
	plain, err := aead.Open(nil, f.Nonce[:], sealed, aad[:])
	if err != nil {
		return nil, &kverrors.AuthError{Index: f.Index, Err: err}
	}
	return plain, nil
}

// MarshaledSize returns the serialized length of f.
func (f *Frame) MarshaledSize() int {
	return HeaderSize + len(f.Ciphertext)
}

// Marshal serializes f into the fixed byte layout:
//
//	index(4, BE) || nonce(12) || tag(16) || ciphertext
//
// No version byte and no padding; the layout is exactly HeaderSize+N bytes.
func (f *Frame) Marshal() []byte {
	out := make([]byte, f.MarshaledSize())
	bin.PutU32BE(out[0:4], f.Index)
	copy(out[4:4+NonceSize], f.Nonce[:])
	copy(out[4+NonceSize:HeaderSize], f.Tag[:])
	copy(out[HeaderSize:], f.Ciphertext)
	return out
}

// Parse deserializes a frame body. It fails with a short_frame format error when
// fewer than MinFrameBytes are present. The ciphertext is copied, so the caller may
// reuse b.
func Parse(b []byte) (*Frame, error) {
	if len(b) < MinFrameBytes {
		return nil, kverrors.Format(kverrors.FormatShortFrame)
	}
	f := &Frame{Index: bin.U32BE(b[0:4])}
	copy(f.Nonce[:], b[4:4+NonceSize])
	copy(f.Tag[:], b[4+NonceSize:HeaderSize])
	f.Ciphertext = make([]byte, len(b)-HeaderSize)
	copy(f.Ciphertext, b[HeaderSize:])
	return f, nil
}

// Package keyring implements the key hierarchy: master secret generation and
// validation, hex export/import, and per-object subkey derivation.
//
// The master secret is an operator-held 32-byte root. Each object identifier gets its
// own 32-byte subkey via HKDF-SHA-256 with salt = SHA-256(object_id), so independent
// objects live in independent key domains. Subkeys are derived on demand and wiped by
// the owning session when it ends; the master is caller-owned and never retained.
package keyring

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/kitsuneislife/keyring-vcm/internal/objectid"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

const (
	// MasterSize is the master secret length in bytes.
	MasterSize = 32
	// SubkeySize is the derived per-object key length in bytes.
	SubkeySize = 32

	// deriveInfo is the fixed HKDF info string. Changing it changes every derived
	// subkey, so it is versioned and must stay bit-identical across implementations.
	deriveInfo = "@kitsuneislife/keyring-vcm-v1"

	// minDistinctBytes is the coarse entropy floor applied to master secrets.
	minDistinctBytes = 16
)

// ValidateMaster checks length, rejects the all-zero buffer, and enforces the entropy
// floor of at least minDistinctBytes distinct byte values.
func ValidateMaster(master []byte) error {
	if len(master) != MasterSize {
		return kverrors.Validation("master", "must be %d bytes, got %d", MasterSize, len(master))
	}
	distinct := distinctBytes(master)
	if distinct == 1 && master[0] == 0 {
		return kverrors.Security(kverrors.SecurityWeakMaster, "all-zero master secret")
	}
	if distinct < minDistinctBytes {
		return kverrors.Security(kverrors.SecurityWeakMaster, "only %d distinct byte values, need %d", distinct, minDistinctBytes)
	}
	return nil
}

func distinctBytes(b []byte) int {
	var seen [256]bool
	n := 0
	for _, c := range b {
		if !seen[c] {
			seen[c] = true
			n++
		}
	}
	return n
}

// GenerateMaster draws a fresh master secret from the OS CSPRNG, redrawing in the
// unlikely event the entropy floor is not met.
func GenerateMaster() ([]byte, error) {
	for {
		master := make([]byte, MasterSize)
		if _, err := rand.Read(master); err != nil {
			return nil, kverrors.IO("random", err)
		}
		if err := ValidateMaster(master); err == nil {
			return master, nil
		}
		secmem.Zero(master)
	}
}

// DeriveSubkey derives the 32-byte per-object subkey for objectID.
//
// The schedule is HKDF-SHA-256 with salt = SHA-256(object_id), IKM = master, and the
// fixed versioned info string; a single expand block suffices since the output does
// not exceed the hash length. Derivation is deterministic and domain-separated: the
// same inputs always yield the same subkey, distinct object ids yield independent
// subkeys.
func DeriveSubkey(master []byte, objectID string) ([SubkeySize]byte, error) {
	var sk [SubkeySize]byte
	if err := ValidateMaster(master); err != nil {
		return sk, err
	}
	if err := objectid.Validate(objectID); err != nil {
		return sk, err
	}
	salt := sha256.Sum256([]byte(objectID))
	r := hkdf.New(sha256.New, master, salt[:], []byte(deriveInfo))
	if _, err := io.ReadFull(r, sk[:]); err != nil {
		return sk, kverrors.IO("derive", err)
	}
	return sk, nil
}

// ExportMaster serializes a validated master secret as lowercase hex.
func ExportMaster(master []byte) (string, error) {
	if err := ValidateMaster(master); err != nil {
		return "", err
	}
	return hex.EncodeToString(master), nil
}

// ImportMaster parses a lowercase-hex master secret. It rejects non-hex characters,
// odd lengths, wrong sizes, and anything failing the entropy floor.
func ImportMaster(s string) ([]byte, error) {
	if len(s) != MasterSize*2 {
		return nil, kverrors.Validation("master", "hex form must be %d characters, got %d", MasterSize*2, len(s))
	}
	master, err := hex.DecodeString(s)
	if err != nil {
		return nil, kverrors.Validation("master", "not valid hex: %v", err)
	}
	if err := ValidateMaster(master); err != nil {
		secmem.Zero(master)
		return nil, err
	}
	return master, nil
}

// Fingerprint returns a short non-secret identifier for a key: the first 8 hex
// characters of HMAC-SHA-256 over the key with a fixed fingerprint label. Safe to log.
func Fingerprint(key []byte) string {
	m := hmac.New(sha256.New, []byte("keyring-vcm/fingerprint"))
	_, _ = m.Write(key)
	return hex.EncodeToString(m.Sum(nil))[:8]
}

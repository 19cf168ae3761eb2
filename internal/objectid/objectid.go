// Package objectid validates object identifiers. An object identifier separates
// independent encryption domains: it feeds both the subkey derivation salt and the
// per-frame associated data, so every public entry point validates it up front.
package objectid

import "github.com/kitsuneislife/keyring-vcm/kverrors"

// MaxLen is the maximum identifier length in UTF-8 bytes.
const MaxLen = 256

// Validate checks that id is non-empty, at most MaxLen bytes, and restricted to
// letters, digits, and the punctuation set "-_:.".
func Validate(id string) error {
	if id == "" {
		return kverrors.Validation("object_id", "must not be empty")
	}
	if len(id) > MaxLen {
		return kverrors.Validation("object_id", "%d bytes exceeds maximum of %d", len(id), MaxLen)
	}
	for i := 0; i < len(id); i++ {
		if !validByte(id[i]) {
			return kverrors.Validation("object_id", "disallowed byte 0x%02x at offset %d", id[i], i)
		}
	}
	return nil
}

func validByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == ':' || c == '.':
		return true
	}
	return false
}

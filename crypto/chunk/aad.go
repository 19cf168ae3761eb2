package chunk

import (
	"crypto/sha256"

	"github.com/kitsuneislife/keyring-vcm/internal/bin"
)

// AADSize is the associated-data length in bytes.
const AADSize = 32

// AAD computes the per-frame associated data: SHA-256(object_id || uint32_be(index)).
//
// It is reconstructable from public values alone; no secret material enters it.
// Binding the index defeats reordering, binding the object id defeats cross-object
// substitution.
func AAD(objectID string, index uint32) [AADSize]byte {
	h := sha256.New()
	_, _ = h.Write([]byte(objectID))
	var idx [4]byte
	bin.PutU32BE(idx[:], index)
	_, _ = h.Write(idx[:])
	var out [AADSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

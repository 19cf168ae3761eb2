// Package secmem holds the small memory-hygiene utilities used around key material:
// zeroization that survives compiler optimization and constant-time comparison.
package secmem

import (
	"crypto/subtle"
	"runtime"
)

// Zero overwrites b with zeros. The KeepAlive fence ensures the writes are observable
// after the buffer's last use, so the compiler cannot elide them as dead stores.
func Zero(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b[0])
}

// Zero32 overwrites a fixed-size key array with zeros.
func Zero32(k *[32]byte) {
	Zero(k[:])
}

// Equal compares two byte slices in constant time. Slices of different lengths
// compare unequal without leaking where they differ.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Package stream implements the streaming framer: stateful transducers that split a
// cleartext stream into AEAD frames and reassemble a frame stream back into
// cleartext.
//
// Both directions are explicit push/finish state machines. The caller feeds input
// blocks of any size; the framer owns its accumulating buffer and the per-object
// subkey, and wipes both when the session ends. A session is single-producer; run
// independent sessions in their own goroutines, nothing is shared between them.
package stream

import (
	"math"

	"github.com/kitsuneislife/keyring-vcm/crypto/chunk"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/keyring"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

const (
	// DefaultFrameSize is the target frame payload size in bytes.
	DefaultFrameSize = 512 * 1024
	// MinFrameSize is the smallest configurable frame payload size.
	MinFrameSize = 1024
	// MaxFrameSize is the largest configurable frame payload size.
	MaxFrameSize = 10 << 20

	// DefaultIndexCeiling is the default safety cap on frame indices per object.
	// Nonces are random per frame, so bounding the frame count bounds the collision
	// probability within one subkey.
	DefaultIndexCeiling = 100_000
	// HardIndexCeiling is the absolute bound: indices must fit in 32 bits.
	HardIndexCeiling = math.MaxUint32
)

// ValidateFrameSize checks the configured frame payload size range.
func ValidateFrameSize(n int) error {
	if n < MinFrameSize || n > MaxFrameSize {
		return kverrors.Validation("frame_size", "%d outside [%d, %d]", n, MinFrameSize, MaxFrameSize)
	}
	return nil
}

// Encryptor splits a plaintext stream into sealed frames.
type Encryptor struct {
	objectID  string
	subkey    [chunk.KeySize]byte
	frameSize int
	maxIndex  uint32

	buf      []byte
	next     uint32
	frames   uint64
	bytes    uint64
	finished bool
	released bool
}

// NewEncryptor validates its inputs, derives the per-object subkey, and returns an
// encrypt session. frameSize and maxIndex of zero select the defaults. The master is
// read-only input and is not retained.
func NewEncryptor(master []byte, objectID string, frameSize int, maxIndex uint32) (*Encryptor, error) {
	if frameSize == 0 {
		frameSize = DefaultFrameSize
	}
	if maxIndex == 0 {
		maxIndex = DefaultIndexCeiling
	}
	if err := ValidateFrameSize(frameSize); err != nil {
		return nil, err
	}
	subkey, err := keyring.DeriveSubkey(master, objectID)
	if err != nil {
		return nil, err
	}
	return &Encryptor{
		objectID:  objectID,
		subkey:    subkey,
		frameSize: frameSize,
		maxIndex:  maxIndex,
	}, nil
}

// Push appends p to the pending buffer and seals as many full-size frames as are now
// available, in index order. The returned frames are owned by the caller.
func (e *Encryptor) Push(p []byte) ([]*chunk.Frame, error) {
	if e.finished {
		return nil, kverrors.Validation("session", "push after finish")
	}
	e.buf = append(e.buf, p...)
	e.bytes += uint64(len(p))
	var frames []*chunk.Frame
	for len(e.buf) >= e.frameSize {
		f, err := e.seal(e.buf[:e.frameSize])
		if err != nil {
			return frames, err
		}
		n := copy(e.buf, e.buf[e.frameSize:])
		e.buf = e.buf[:n]
		frames = append(frames, f)
	}
	return frames, nil
}

// Finish seals any pending bytes as a final short frame and releases the session.
// It returns nil when the input length was an exact multiple of the frame size
// (or empty): the final frame is the only one that may be short, and never empty.
func (e *Encryptor) Finish() (*chunk.Frame, error) {
	if e.finished {
		return nil, kverrors.Validation("session", "finish called twice")
	}
	e.finished = true
	var f *chunk.Frame
	if len(e.buf) > 0 {
		var err error
		f, err = e.seal(e.buf)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	e.Close()
	return f, nil
}

func (e *Encryptor) seal(plaintext []byte) (*chunk.Frame, error) {
	if e.next > e.maxIndex {
		return nil, kverrors.Security(kverrors.SecurityFrameCap, "frame index %d exceeds ceiling %d", e.next, e.maxIndex)
	}
	f, err := chunk.Seal(e.subkey, e.objectID, e.next, plaintext)
	if err != nil {
		return nil, err
	}
	e.next++
	e.frames++
	return f, nil
}

// Close releases the session, wiping the subkey and the plaintext buffer. It is
// idempotent and must be called on abandonment; Finish calls it implicitly.
func (e *Encryptor) Close() {
	if e.released {
		return
	}
	e.released = true
	secmem.Zero32(&e.subkey)
	if e.buf != nil {
		secmem.Zero(e.buf[:cap(e.buf)])
		e.buf = nil
	}
}

// Frames reports the number of frames sealed so far.
func (e *Encryptor) Frames() uint64 { return e.frames }

// Bytes reports the number of plaintext bytes consumed so far.
func (e *Encryptor) Bytes() uint64 { return e.bytes }

// Decryptor reassembles an in-order frame stream back into plaintext.
type Decryptor struct {
	objectID string
	subkey   [chunk.KeySize]byte
	maxIndex uint32

	next     uint32
	frames   uint64
	bytes    uint64
	released bool
}

// NewDecryptor validates its inputs, derives the per-object subkey, and returns a
// decrypt session. maxIndex of zero selects the default ceiling.
func NewDecryptor(master []byte, objectID string, maxIndex uint32) (*Decryptor, error) {
	if maxIndex == 0 {
		maxIndex = DefaultIndexCeiling
	}
	subkey, err := keyring.DeriveSubkey(master, objectID)
	if err != nil {
		return nil, err
	}
	return &Decryptor{
		objectID: objectID,
		subkey:   subkey,
		maxIndex: maxIndex,
	}, nil
}

// Frame decrypts the next frame and returns its plaintext.
//
// Indices must start at zero and increase by one; any other index aborts with an
// order error before touching the cipher. This is a second line of defense for
// inputs that bypassed the envelope framer. An authentication failure advances the
// expected index (the frame occupied its slot) so permissive callers can continue
// with the following frame.
func (d *Decryptor) Frame(f *chunk.Frame) ([]byte, error) {
	if f.Index != d.next {
		return nil, &kverrors.OrderError{Want: d.next, Got: f.Index}
	}
	if f.Index > d.maxIndex {
		return nil, kverrors.Security(kverrors.SecurityFrameCap, "frame index %d exceeds ceiling %d", f.Index, d.maxIndex)
	}
	d.next++
	plain, err := chunk.Open(d.subkey, d.objectID, f)
	if err != nil {
		return nil, err
	}
	d.frames++
	d.bytes += uint64(len(plain))
	return plain, nil
}

// Close releases the session, wiping the subkey. Idempotent.
func (d *Decryptor) Close() {
	if d.released {
		return
	}
	d.released = true
	secmem.Zero32(&d.subkey)
}

// Frames reports the number of frames successfully opened.
func (d *Decryptor) Frames() uint64 { return d.frames }

// Bytes reports the number of plaintext bytes produced.
func (d *Decryptor) Bytes() uint64 { return d.bytes }

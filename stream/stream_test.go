package stream

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kitsuneislife/keyring-vcm/crypto/chunk"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

func testMaster() []byte {
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i*7 + 3)
	}
	return master
}

func testPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + 7)
	}
	return b
}

func encryptAll(t *testing.T, plaintext []byte, frameSize int) []*chunk.Frame {
	t.Helper()
	enc, err := NewEncryptor(testMaster(), "video-1", frameSize, 0)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	frames, err := enc.Push(plaintext)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	final, err := enc.Finish()
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if final != nil {
		frames = append(frames, final)
	}
	return frames
}

func decryptAll(t *testing.T, frames []*chunk.Frame) []byte {
	t.Helper()
	dec, err := NewDecryptor(testMaster(), "video-1", 0)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	defer dec.Close()
	var out []byte
	for _, f := range frames {
		plain, err := dec.Frame(f)
		if err != nil {
			t.Fatalf("frame %d failed: %v", f.Index, err)
		}
		out = append(out, plain...)
	}
	return out
}

func TestValidateFrameSize(t *testing.T) {
	for _, n := range []int{MinFrameSize, DefaultFrameSize, MaxFrameSize} {
		if err := ValidateFrameSize(n); err != nil {
			t.Fatalf("expected %d to be valid, got %v", n, err)
		}
	}
	for _, n := range []int{0, 1, MinFrameSize - 1, MaxFrameSize + 1} {
		if err := ValidateFrameSize(n); err == nil {
			t.Fatalf("expected %d to be rejected", n)
		}
	}
}

func TestEmptyInputProducesNoFrames(t *testing.T) {
	frames := encryptAll(t, nil, MinFrameSize)
	if len(frames) != 0 {
		t.Fatalf("expected 0 frames, got %d", len(frames))
	}
	if got := decryptAll(t, nil); len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
}

func TestSingleShortFrame(t *testing.T) {
	plaintext := []byte("Hello, World!")
	frames := encryptAll(t, plaintext, MinFrameSize)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Index != 0 {
		t.Fatalf("expected index 0, got %d", frames[0].Index)
	}
	if len(frames[0].Ciphertext) != len(plaintext) {
		t.Fatalf("expected ciphertext length %d, got %d", len(plaintext), len(frames[0].Ciphertext))
	}
	if got := decryptAll(t, frames); !bytes.Equal(got, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestExactMultipleHasNoShortFrame(t *testing.T) {
	const f = MinFrameSize
	plaintext := testPayload(2 * f)
	frames := encryptAll(t, plaintext, f)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	for i, fr := range frames {
		if fr.Index != uint32(i) {
			t.Fatalf("expected index %d, got %d", i, fr.Index)
		}
		if len(fr.Ciphertext) != f {
			t.Fatalf("expected full frame of %d bytes, got %d", f, len(fr.Ciphertext))
		}
	}
	if got := decryptAll(t, frames); !bytes.Equal(got, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestRaggedTail(t *testing.T) {
	const f = MinFrameSize
	plaintext := testPayload(2*f + 100)
	frames := encryptAll(t, plaintext, f)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if len(frames[0].Ciphertext) != f || len(frames[1].Ciphertext) != f {
		t.Fatal("expected all non-final frames to be full size")
	}
	if len(frames[2].Ciphertext) != 100 {
		t.Fatalf("expected final frame of 100 bytes, got %d", len(frames[2].Ciphertext))
	}
	if got := decryptAll(t, frames); !bytes.Equal(got, plaintext) {
		t.Fatal("round trip mismatch")
	}
}

// Input split across many pushes must frame identically to one big push.
func TestPushBoundariesDoNotMatter(t *testing.T) {
	const f = MinFrameSize
	plaintext := testPayload(3*f + 17)

	enc, err := NewEncryptor(testMaster(), "video-1", f, 0)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	var frames []*chunk.Frame
	for len(plaintext) > 0 {
		n := 300
		if n > len(plaintext) {
			n = len(plaintext)
		}
		fs, err := enc.Push(plaintext[:n])
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		frames = append(frames, fs...)
		plaintext = plaintext[n:]
	}
	final, err := enc.Finish()
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if final != nil {
		frames = append(frames, final)
	}
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	if got := decryptAll(t, frames); !bytes.Equal(got, testPayload(3*f+17)) {
		t.Fatal("round trip mismatch")
	}
}

func TestEncryptorStats(t *testing.T) {
	enc, err := NewEncryptor(testMaster(), "video-1", MinFrameSize, 0)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	if _, err := enc.Push(testPayload(MinFrameSize + 5)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if _, err := enc.Finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if enc.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", enc.Frames())
	}
	if enc.Bytes() != uint64(MinFrameSize+5) {
		t.Fatalf("expected %d bytes, got %d", MinFrameSize+5, enc.Bytes())
	}
}

func TestPushAfterFinishRejected(t *testing.T) {
	enc, err := NewEncryptor(testMaster(), "video-1", 0, 0)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	if _, err := enc.Finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if _, err := enc.Push([]byte("late")); err == nil {
		t.Fatal("expected push after finish to fail")
	}
	if _, err := enc.Finish(); err == nil {
		t.Fatal("expected second finish to fail")
	}
}

func TestFrameCapEnforced(t *testing.T) {
	enc, err := NewEncryptor(testMaster(), "video-1", MinFrameSize, 1)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	defer enc.Close()
	// Indices 0 and 1 are allowed; the third frame must trip the ceiling.
	_, err = enc.Push(testPayload(3 * MinFrameSize))
	var se *kverrors.SecurityError
	if !errors.As(err, &se) || se.Code != kverrors.SecurityFrameCap {
		t.Fatalf("expected frame_cap_exceeded, got %v", err)
	}
}

func TestDecryptorEnforcesOrder(t *testing.T) {
	frames := encryptAll(t, testPayload(2*MinFrameSize), MinFrameSize)

	t.Run("swap", func(t *testing.T) {
		dec, err := NewDecryptor(testMaster(), "video-1", 0)
		if err != nil {
			t.Fatalf("new decryptor failed: %v", err)
		}
		defer dec.Close()
		_, err = dec.Frame(frames[1])
		var oe *kverrors.OrderError
		if !errors.As(err, &oe) {
			t.Fatalf("expected OrderError, got %v", err)
		}
		if oe.Want != 0 || oe.Got != 1 {
			t.Fatalf("expected want=0 got=1, got want=%d got=%d", oe.Want, oe.Got)
		}
	})

	t.Run("replay", func(t *testing.T) {
		dec, err := NewDecryptor(testMaster(), "video-1", 0)
		if err != nil {
			t.Fatalf("new decryptor failed: %v", err)
		}
		defer dec.Close()
		if _, err := dec.Frame(frames[0]); err != nil {
			t.Fatalf("frame 0 failed: %v", err)
		}
		_, err = dec.Frame(frames[0])
		var oe *kverrors.OrderError
		if !errors.As(err, &oe) {
			t.Fatalf("expected OrderError on replay, got %v", err)
		}
	})
}

// An authentication failure must advance the expected index so permissive callers
// can resume with the following frame.
func TestDecryptorAdvancesPastAuthFailure(t *testing.T) {
	frames := encryptAll(t, testPayload(2*MinFrameSize), MinFrameSize)
	frames[0].Ciphertext[0] ^= 0x01

	dec, err := NewDecryptor(testMaster(), "video-1", 0)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	defer dec.Close()

	_, err = dec.Frame(frames[0])
	var ae *kverrors.AuthError
	if !errors.As(err, &ae) || ae.Index != 0 {
		t.Fatalf("expected AuthError on frame 0, got %v", err)
	}
	plain, err := dec.Frame(frames[1])
	if err != nil {
		t.Fatalf("expected frame 1 to still authenticate, got %v", err)
	}
	if len(plain) != MinFrameSize {
		t.Fatalf("unexpected plaintext size %d", len(plain))
	}
	if dec.Frames() != 1 {
		t.Fatalf("expected 1 authenticated frame, got %d", dec.Frames())
	}
}

func TestDecryptorWrongMaster(t *testing.T) {
	frames := encryptAll(t, []byte("payload"), MinFrameSize)

	other := testMaster()
	other[0] ^= 0xff
	dec, err := NewDecryptor(other, "video-1", 0)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	defer dec.Close()
	_, err = dec.Frame(frames[0])
	var ae *kverrors.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}

func TestNonceUniquenessAcrossSession(t *testing.T) {
	if testing.Short() {
		t.Skip("10k-frame session")
	}
	const frameCount = 10_000
	enc, err := NewEncryptor(testMaster(), "video-1", MinFrameSize, HardIndexCeiling)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	defer enc.Close()

	seen := make(map[[chunk.NonceSize]byte]struct{}, frameCount)
	block := testPayload(MinFrameSize)
	for i := 0; i < frameCount; i++ {
		frames, err := enc.Push(block)
		if err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
		for _, f := range frames {
			if _, dup := seen[f.Nonce]; dup {
				t.Fatalf("duplicate nonce at frame %d", f.Index)
			}
			seen[f.Nonce] = struct{}{}
		}
	}
	if len(seen) != frameCount {
		t.Fatalf("expected %d nonces, got %d", frameCount, len(seen))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	enc, err := NewEncryptor(testMaster(), "video-1", 0, 0)
	if err != nil {
		t.Fatalf("new encryptor failed: %v", err)
	}
	enc.Close()
	enc.Close()

	dec, err := NewDecryptor(testMaster(), "video-1", 0)
	if err != nil {
		t.Fatalf("new decryptor failed: %v", err)
	}
	dec.Close()
	dec.Close()
}

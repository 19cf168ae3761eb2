// Package codec is the public surface of the chunked authenticated-encryption codec.
// It composes the key hierarchy, the streaming framer, the envelope framing, and the
// text transcoders behind buffer- and stream-level operations.
//
// Successful completion of a decrypt call guarantees that every byte delivered to the
// sink belongs to an authenticated, in-order segment of the original plaintext.
package codec

import (
	"io"

	"github.com/kitsuneislife/keyring-vcm/crypto/chunk"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/keyring"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
	"github.com/kitsuneislife/keyring-vcm/observability"
	"github.com/kitsuneislife/keyring-vcm/stream"
	"github.com/kitsuneislife/keyring-vcm/transcode"
)

// Config carries the per-session options. The zero value selects all defaults.
type Config struct {
	// FrameSize is the target frame payload size in bytes. Zero selects
	// stream.DefaultFrameSize.
	FrameSize int
	// Encoding selects the record representation for stream operations. Empty
	// selects binary.
	Encoding transcode.Encoding
	// PermissiveDecrypt accumulates per-frame authentication errors and continues
	// instead of aborting on the first. Plaintext of failing frames is never
	// emitted.
	PermissiveDecrypt bool
	// MaxFrameIndex is the safety ceiling on frame indices. Zero selects
	// stream.DefaultIndexCeiling.
	MaxFrameIndex uint32
	// Observer receives metric events. Nil selects the no-op observer.
	Observer observability.CodecObserver
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FrameSize:     stream.DefaultFrameSize,
		Encoding:      transcode.EncodingBinary,
		MaxFrameIndex: stream.DefaultIndexCeiling,
	}
}

func (c Config) withDefaults() (Config, error) {
	if c.FrameSize == 0 {
		c.FrameSize = stream.DefaultFrameSize
	}
	if c.MaxFrameIndex == 0 {
		c.MaxFrameIndex = stream.DefaultIndexCeiling
	}
	enc, err := transcode.ParseEncoding(string(c.Encoding))
	if err != nil {
		return c, err
	}
	c.Encoding = enc
	if c.Observer == nil {
		c.Observer = observability.NoopCodecObserver
	}
	return c, nil
}

// FrameError records a per-frame authentication failure in permissive decrypt mode.
type FrameError struct {
	Index uint32
	Err   error
}

// Stats summarizes a streaming call.
type Stats struct {
	// Frames is the number of frames sealed (encrypt) or authenticated (decrypt).
	Frames uint64
	// Bytes is the number of plaintext bytes consumed (encrypt) or produced
	// (decrypt).
	Bytes uint64
	// FrameErrors lists per-frame authentication failures when permissive decrypt
	// is enabled. Empty otherwise.
	FrameErrors []FrameError
}

// EncryptStream reads plaintext from src and writes encoded envelope records to dst.
func EncryptStream(dst io.Writer, src io.Reader, master []byte, objectID string, cfg Config) (Stats, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return Stats{}, err
	}
	stats, err := encryptStream(dst, src, master, objectID, cfg)
	cfg.Observer.SessionDone(observability.OpEncrypt, observability.ResultOf(err))
	return stats, err
}

func encryptStream(dst io.Writer, src io.Reader, master []byte, objectID string, cfg Config) (Stats, error) {
	enc, err := stream.NewEncryptor(master, objectID, cfg.FrameSize, cfg.MaxFrameIndex)
	if err != nil {
		return Stats{}, err
	}
	defer enc.Close()

	fw, err := transcode.NewFrameWriter(dst, cfg.Encoding)
	if err != nil {
		return Stats{}, err
	}

	emit := func(frames []*chunk.Frame) error {
		for _, f := range frames {
			if err := fw.WriteFrame(f); err != nil {
				return err
			}
			cfg.Observer.FrameSealed(len(f.Ciphertext))
		}
		return nil
	}

	buf := make([]byte, 32*1024)
	defer secmem.Zero(buf)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			frames, perr := enc.Push(buf[:n])
			if err := emit(frames); err != nil {
				return encryptorStats(enc), err
			}
			if perr != nil {
				return encryptorStats(enc), perr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return encryptorStats(enc), kverrors.IO("read", rerr)
		}
	}
	final, err := enc.Finish()
	if err != nil {
		return encryptorStats(enc), err
	}
	if final != nil {
		if err := emit([]*chunk.Frame{final}); err != nil {
			return encryptorStats(enc), err
		}
	}
	return encryptorStats(enc), nil
}

func encryptorStats(e *stream.Encryptor) Stats {
	return Stats{Frames: e.Frames(), Bytes: e.Bytes()}
}

// DecryptStream reads encoded envelope records from src and writes authenticated
// plaintext to dst. By default the first error aborts; with
// Config.PermissiveDecrypt, per-frame authentication failures are collected in
// Stats.FrameErrors and decryption continues with the next frame.
func DecryptStream(dst io.Writer, src io.Reader, master []byte, objectID string, cfg Config) (Stats, error) {
	// Decryption need not know the frame size the encryptor used; without an
	// explicit value the envelope bound falls back to the hard maximum.
	parseBound := cfg.FrameSize
	if parseBound == 0 {
		parseBound = stream.MaxFrameSize
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return Stats{}, err
	}
	stats, err := decryptStream(dst, src, master, objectID, cfg, parseBound)
	cfg.Observer.SessionDone(observability.OpDecrypt, observability.ResultOf(err))
	return stats, err
}

func decryptStream(dst io.Writer, src io.Reader, master []byte, objectID string, cfg Config, parseBound int) (Stats, error) {
	dec, err := stream.NewDecryptor(master, objectID, cfg.MaxFrameIndex)
	if err != nil {
		return Stats{}, err
	}
	defer dec.Close()

	cr := &countingReader{r: src}
	fr, err := transcode.NewFrameReader(cr, cfg.Encoding, parseBound)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	observed := uint64(0)
	for {
		f, err := fr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			st.Frames, st.Bytes = dec.Frames(), dec.Bytes()
			return st, err
		}
		observed++
		plain, err := dec.Frame(f)
		if err != nil {
			if ae, ok := asAuthError(err); ok {
				cfg.Observer.AuthFailure()
				if cfg.PermissiveDecrypt {
					st.FrameErrors = append(st.FrameErrors, FrameError{Index: ae.Index, Err: err})
					continue
				}
			}
			st.Frames, st.Bytes = dec.Frames(), dec.Bytes()
			return st, err
		}
		if _, werr := dst.Write(plain); werr != nil {
			secmem.Zero(plain)
			st.Frames, st.Bytes = dec.Frames(), dec.Bytes()
			return st, kverrors.IO("write", werr)
		}
		cfg.Observer.FrameOpened(len(plain))
		secmem.Zero(plain)
	}
	st.Frames, st.Bytes = dec.Frames(), dec.Bytes()
	if observed == 0 && cr.n > 0 {
		return st, kverrors.Format(kverrors.FormatTruncatedStream)
	}
	if len(st.FrameErrors) > 0 {
		// Permissive mode still reports failure: the output has holes.
		return st, &kverrors.AuthError{Index: st.FrameErrors[0].Index, Err: st.FrameErrors[0].Err}
	}
	return st, nil
}

func asAuthError(err error) (*kverrors.AuthError, bool) {
	ae, ok := err.(*kverrors.AuthError)
	return ae, ok
}

type countingReader struct {
	r io.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

// EncryptBuffer encrypts plaintext in one call and returns the serialized frames in
// index order, without envelope length prefixes.
func EncryptBuffer(plaintext []byte, master []byte, objectID string, cfg Config) ([][]byte, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	enc, err := stream.NewEncryptor(master, objectID, cfg.FrameSize, cfg.MaxFrameIndex)
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	frames, err := enc.Push(plaintext)
	if err != nil {
		return nil, err
	}
	final, err := enc.Finish()
	if err != nil {
		return nil, err
	}
	if final != nil {
		frames = append(frames, final)
	}
	out := make([][]byte, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Marshal())
		cfg.Observer.FrameSealed(len(f.Ciphertext))
	}
	return out, nil
}

// DecryptBuffer decrypts a sequence of serialized frames and returns the plaintext.
// The first failure aborts; buffer mode has no permissive variant.
func DecryptBuffer(frames [][]byte, master []byte, objectID string, cfg Config) ([]byte, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	dec, err := stream.NewDecryptor(master, objectID, cfg.MaxFrameIndex)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []byte
	for _, b := range frames {
		f, err := chunk.Parse(b)
		if err != nil {
			return nil, err
		}
		plain, err := dec.Frame(f)
		if err != nil {
			if _, ok := asAuthError(err); ok {
				cfg.Observer.AuthFailure()
			}
			secmem.Zero(out)
			return nil, err
		}
		out = append(out, plain...)
		cfg.Observer.FrameOpened(len(plain))
		secmem.Zero(plain)
	}
	return out, nil
}

// GenerateMaster draws a fresh 32-byte master secret from the OS CSPRNG.
func GenerateMaster() ([]byte, error) { return keyring.GenerateMaster() }

// ExportMaster serializes a master secret as lowercase hex.
func ExportMaster(master []byte) (string, error) { return keyring.ExportMaster(master) }

// ImportMaster parses and validates a lowercase-hex master secret.
func ImportMaster(s string) ([]byte, error) { return keyring.ImportMaster(s) }

// DeriveSubkey derives the 32-byte per-object subkey for objectID.
func DeriveSubkey(master []byte, objectID string) ([32]byte, error) {
	return keyring.DeriveSubkey(master, objectID)
}

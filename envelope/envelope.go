// Package envelope implements the outer length-prefixed framing that makes a frame
// stream parseable on disk and on the wire:
//
//	record := uint32_be(body_len) || frame_body
//	stream := record*
//
// There is no magic, no version, and no trailer, which permits streaming append,
// streaming parse, and seeking to known frame boundaries.
package envelope

import (
	"io"

	"github.com/kitsuneislife/keyring-vcm/crypto/chunk"
	"github.com/kitsuneislife/keyring-vcm/internal/bin"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

// LengthPrefixSize is the record length prefix size in bytes.
const LengthPrefixSize = 4

// MaxBodyBytes returns the largest legal frame body for the given frame payload size.
func MaxBodyBytes(frameSize int) int {
	return chunk.HeaderSize + frameSize
}

// Record serializes f as a single envelope record, prefix included.
func Record(f *chunk.Frame) []byte {
	body := f.MarshaledSize()
	out := make([]byte, LengthPrefixSize+body)
	bin.PutU32BE(out[:LengthPrefixSize], uint32(body))
	bin.PutU32BE(out[LengthPrefixSize:LengthPrefixSize+4], f.Index)
	copy(out[LengthPrefixSize+4:], f.Nonce[:])
	copy(out[LengthPrefixSize+4+chunk.NonceSize:], f.Tag[:])
	copy(out[LengthPrefixSize+chunk.HeaderSize:], f.Ciphertext)
	return out
}

// Writer emits envelope records to an underlying byte sink.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w as an envelope record sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one record. Prefix and body go out in a single Write so sinks
// that are message-oriented see whole records.
func (e *Writer) WriteFrame(f *chunk.Frame) error {
	if _, err := e.w.Write(Record(f)); err != nil {
		return kverrors.IO("write", err)
	}
	return nil
}

// Parser incrementally reassembles envelope records from arbitrarily sized input
// blocks. Input of any read size may be pushed; whole frames are emitted as soon as
// their record is complete.
type Parser struct {
	maxBody int
	acc     []byte
}

// NewParser builds a parser that accepts frame bodies up to MaxBodyBytes(frameSize).
func NewParser(frameSize int) *Parser {
	return &Parser{maxBody: MaxBodyBytes(frameSize)}
}

// Push appends b to the accumulator and returns every frame whose record is now
// complete. A length prefix outside [MinFrameBytes, maxBody] fails immediately with a
// malformed_envelope format error.
func (p *Parser) Push(b []byte) ([]*chunk.Frame, error) {
	p.acc = append(p.acc, b...)
	var frames []*chunk.Frame
	for len(p.acc) >= LengthPrefixSize {
		bodyLen := int(bin.U32BE(p.acc[:LengthPrefixSize]))
		if bodyLen < chunk.MinFrameBytes || bodyLen > p.maxBody {
			return frames, kverrors.Format(kverrors.FormatMalformedEnvelope)
		}
		if len(p.acc) < LengthPrefixSize+bodyLen {
			break
		}
		f, err := chunk.Parse(p.acc[LengthPrefixSize : LengthPrefixSize+bodyLen])
		if err != nil {
			return frames, err
		}
		p.acc = p.acc[LengthPrefixSize+bodyLen:]
		frames = append(frames, f)
	}
	return frames, nil
}

// Finish signals end of input. Any residual bytes mean the stream stopped inside a
// record and surface as a truncated_envelope format error carrying the residue size.
func (p *Parser) Finish() error {
	if n := len(p.acc); n > 0 {
		return &kverrors.FormatError{Code: kverrors.FormatTruncatedEnvelope, Residue: n}
	}
	return nil
}

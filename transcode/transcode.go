// Package transcode moves envelope records between their binary form and the
// line-oriented text forms (lowercase hex, standard base64). One record per line,
// lines decoded independently, no leading or trailing markers.
package transcode

import (
	"bufio"
	"encoding/base64"
	"encoding/hex"
	"io"

	"github.com/kitsuneislife/keyring-vcm/crypto/chunk"
	"github.com/kitsuneislife/keyring-vcm/envelope"
	"github.com/kitsuneislife/keyring-vcm/internal/bin"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

// Encoding selects the on-wire representation of envelope records.
type Encoding string

const (
	// EncodingBinary writes raw envelope records.
	EncodingBinary Encoding = "binary"
	// EncodingHex writes one lowercase-hex record per line.
	EncodingHex Encoding = "hex"
	// EncodingBase64 writes one standard-base64 record per line (RFC 4648, +/=).
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding validates an encoding tag. The empty string selects binary.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingBinary:
		return EncodingBinary, nil
	case EncodingHex:
		return EncodingHex, nil
	case EncodingBase64:
		return EncodingBase64, nil
	}
	return "", kverrors.Validation("encoding", "unknown tag %q", s)
}

// FrameWriter emits sealed frames to a byte sink in the selected encoding.
type FrameWriter interface {
	WriteFrame(f *chunk.Frame) error
}

// FrameReader yields frames from a byte source in the selected encoding. It returns
// io.EOF after a clean end of input.
type FrameReader interface {
	Next() (*chunk.Frame, error)
}

// NewFrameWriter builds a FrameWriter over w.
func NewFrameWriter(w io.Writer, enc Encoding) (FrameWriter, error) {
	switch enc {
	case EncodingBinary:
		return envelope.NewWriter(w), nil
	case EncodingHex, EncodingBase64:
		return &textWriter{w: w, enc: enc}, nil
	}
	return nil, kverrors.Validation("encoding", "unknown tag %q", enc)
}

// NewFrameReader builds a FrameReader over r for frame payloads up to frameSize.
func NewFrameReader(r io.Reader, enc Encoding, frameSize int) (FrameReader, error) {
	maxBody := envelope.MaxBodyBytes(frameSize)
	switch enc {
	case EncodingBinary:
		return &binaryReader{
			r:   r,
			p:   envelope.NewParser(frameSize),
			buf: make([]byte, 32*1024),
		}, nil
	case EncodingHex, EncodingBase64:
		s := bufio.NewScanner(r)
		// A line is one encoded record; hex doubles the byte count, base64 grows
		// less, so twice the record bound covers both with slack for the newline.
		maxLine := 2*(envelope.LengthPrefixSize+maxBody) + 16
		s.Buffer(make([]byte, 0, 64*1024), maxLine)
		return &textReader{s: s, enc: enc, maxBody: maxBody}, nil
	}
	return nil, kverrors.Validation("encoding", "unknown tag %q", enc)
}

type textWriter struct {
	w   io.Writer
	enc Encoding
}

func (t *textWriter) WriteFrame(f *chunk.Frame) error {
	rec := envelope.Record(f)
	var line []byte
	switch t.enc {
	case EncodingHex:
		line = make([]byte, hex.EncodedLen(len(rec))+1)
		hex.Encode(line, rec)
	default:
		line = make([]byte, base64.StdEncoding.EncodedLen(len(rec))+1)
		base64.StdEncoding.Encode(line, rec)
	}
	line[len(line)-1] = '\n'
	if _, err := t.w.Write(line); err != nil {
		return kverrors.IO("write", err)
	}
	return nil
}

type binaryReader struct {
	r       io.Reader
	p       *envelope.Parser
	buf     []byte
	pending []*chunk.Frame
	err     error
	eof     bool
}

func (b *binaryReader) Next() (*chunk.Frame, error) {
	for len(b.pending) == 0 {
		if b.err != nil {
			return nil, b.err
		}
		if b.eof {
			if err := b.p.Finish(); err != nil {
				b.err = err
				return nil, err
			}
			b.err = io.EOF
			return nil, io.EOF
		}
		n, err := b.r.Read(b.buf)
		if n > 0 {
			frames, perr := b.p.Push(b.buf[:n])
			b.pending = append(b.pending, frames...)
			if perr != nil {
				// Deliver frames completed before the malformed prefix first.
				b.err = perr
			}
		}
		switch {
		case err == io.EOF:
			b.eof = true
		case err != nil:
			if b.err == nil {
				b.err = kverrors.IO("read", err)
			}
		}
	}
	f := b.pending[0]
	b.pending = b.pending[1:]
	return f, nil
}

type textReader struct {
	s       *bufio.Scanner
	enc     Encoding
	maxBody int
	err     error
}

func (t *textReader) Next() (*chunk.Frame, error) {
	if t.err != nil {
		return nil, t.err
	}
	for {
		if !t.s.Scan() {
			if err := t.s.Err(); err != nil {
				t.err = kverrors.IO("read", err)
			} else {
				t.err = io.EOF
			}
			return nil, t.err
		}
		line := t.s.Bytes()
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) == 0 {
			continue
		}
		f, err := t.decodeLine(line)
		if err != nil {
			t.err = err
			return nil, err
		}
		return f, nil
	}
}

// decodeLine decodes exactly one envelope record from a single line.
func (t *textReader) decodeLine(line []byte) (*chunk.Frame, error) {
	var rec []byte
	switch t.enc {
	case EncodingHex:
		for _, c := range line {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				return nil, kverrors.Format(kverrors.FormatBadLine)
			}
		}
		rec = make([]byte, hex.DecodedLen(len(line)))
		if _, err := hex.Decode(rec, line); err != nil {
			return nil, kverrors.Format(kverrors.FormatBadLine)
		}
	default:
		rec = make([]byte, base64.StdEncoding.DecodedLen(len(line)))
		n, err := base64.StdEncoding.Decode(rec, line)
		if err != nil {
			return nil, kverrors.Format(kverrors.FormatBadLine)
		}
		rec = rec[:n]
	}
	if len(rec) < envelope.LengthPrefixSize {
		return nil, kverrors.Format(kverrors.FormatBadLine)
	}
	bodyLen := int(bin.U32BE(rec[:envelope.LengthPrefixSize]))
	if bodyLen < chunk.MinFrameBytes || bodyLen > t.maxBody {
		return nil, kverrors.Format(kverrors.FormatMalformedEnvelope)
	}
	if envelope.LengthPrefixSize+bodyLen != len(rec) {
		return nil, kverrors.Format(kverrors.FormatBadLine)
	}
	return chunk.Parse(rec[envelope.LengthPrefixSize:])
}

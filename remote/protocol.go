// Package remote runs the codec as a network service. A client dials a websocket
// endpoint; the binary connection hosts a yamux session; each yamux stream carries
// exactly one codec session:
//
//	client → server: hello frame, then length-prefixed data chunks, then a zero chunk
//	server → client: length-prefixed output chunks, then a zero chunk, then a result frame
//
// The hello and result frames are 4-byte length-prefixed JSON; data chunks are 4-byte
// length-prefixed byte blocks. The master secret lives only on the server.
package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/kitsuneislife/keyring-vcm/internal/bin"
	"github.com/kitsuneislife/keyring-vcm/observability"
)

const (
	// MaxHelloBytes bounds the hello frame.
	MaxHelloBytes = 4 * 1024
	// MaxResultBytes bounds the result frame.
	MaxResultBytes = 64 * 1024
	// maxChunkBytes bounds a single data chunk in either direction.
	maxChunkBytes = 1 << 20
	// writeChunkBytes is the chunk size used when splitting outgoing data.
	writeChunkBytes = 64 * 1024
)

// Op selects the codec operation for a stream.
type Op string

const (
	OpEncrypt Op = "encrypt"
	OpDecrypt Op = "decrypt"
)

// Hello opens a codec session on a yamux stream.
type Hello struct {
	Op         Op     `json:"op"`
	ObjectID   string `json:"object_id"`
	FrameSize  int    `json:"frame_size,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Permissive bool   `json:"permissive,omitempty"`
}

// Result closes a codec session, reporting its outcome.
type Result struct {
	OK          bool     `json:"ok"`
	Frames      uint64   `json:"frames"`
	Bytes       uint64   `json:"bytes"`
	Code        string   `json:"code,omitempty"`
	Error       string   `json:"error,omitempty"`
	FrameErrors []uint32 `json:"frame_errors,omitempty"`
}

// Error is the client-side representation of a server-reported failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("remote %s: %s", e.Code, e.Message)
}

// resultFor fills a Result from a finished codec call.
func resultFor(frames uint64, bytes uint64, frameErrors []uint32, err error) Result {
	r := Result{Frames: frames, Bytes: bytes, FrameErrors: frameErrors}
	if err == nil {
		r.OK = true
		return r
	}
	r.Code = string(observability.ResultOf(err))
	r.Error = err.Error()
	return r
}

var errFrameTooLarge = errors.New("protocol frame too large")

func writeJSONFrame(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var hdr [4]byte
	bin.PutU32BE(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readJSONFrame(r io.Reader, maxLen int, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := int(bin.U32BE(hdr[:]))
	if n <= 0 || n > maxLen {
		return errFrameTooLarge
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// chunkWriter splits a byte stream into length-prefixed chunks. closeData emits the
// zero-length terminator.
type chunkWriter struct {
	w io.Writer
}

func (c *chunkWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > writeChunkBytes {
			n = writeChunkBytes
		}
		var hdr [4]byte
		bin.PutU32BE(hdr[:], uint32(n))
		if _, err := c.w.Write(hdr[:]); err != nil {
			return total, err
		}
		if _, err := c.w.Write(p[:n]); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (c *chunkWriter) closeData() error {
	var hdr [4]byte
	_, err := c.w.Write(hdr[:])
	return err
}

// chunkReader reassembles a length-prefixed chunk stream, reporting io.EOF at the
// zero-length terminator.
type chunkReader struct {
	r      io.Reader
	remain int
	done   bool
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	for c.remain == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
			return 0, err
		}
		n := int(bin.U32BE(hdr[:]))
		if n == 0 {
			c.done = true
			return 0, io.EOF
		}
		if n > maxChunkBytes {
			return 0, errFrameTooLarge
		}
		c.remain = n
	}
	if len(p) > c.remain {
		p = p[:c.remain]
	}
	n, err := io.ReadFull(c.r, p)
	c.remain -= n
	return n, err
}

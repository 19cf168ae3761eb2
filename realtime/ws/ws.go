// Package ws wraps gorilla/websocket behind a context-aware message connection so
// higher layers never touch the underlying library directly.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a message-oriented websocket connection with context-aware reads and
// writes.
type Conn struct {
	c *websocket.Conn
}

// UpgraderOptions configures the server-side upgrade.
type UpgraderOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// DialOptions configures the client-side dial.
type DialOptions struct {
	Header http.Header
}

// Dial connects to a websocket endpoint, honoring the context deadline for the
// handshake.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	d := websocket.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		d.HandshakeTimeout = time.Until(deadline)
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit caps the size of incoming messages.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadBinary reads the next binary message. A text message is a protocol error.
func (c *Conn) ReadBinary(ctx context.Context) ([]byte, error) {
	mt, b, err := c.readMessage(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, errors.New("unexpected non-binary ws message")
	}
	return b, nil
}

// WriteBinary writes one binary message, honoring the context deadline.
func (c *Conn) WriteBinary(ctx context.Context, b []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.c.SetWriteDeadline(deadline)
	} else {
		_ = c.c.SetWriteDeadline(time.Time{})
	}
	err := c.c.WriteMessage(websocket.BinaryMessage, b)
	return c.mapTimeout(ctx, err)
}

func (c *Conn) readMessage(ctx context.Context) (int, []byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.c.SetReadDeadline(deadline)
	} else {
		_ = c.c.SetReadDeadline(time.Time{})
	}
	mt, b, err := c.c.ReadMessage()
	if err != nil {
		return 0, nil, c.mapTimeout(ctx, err)
	}
	return mt, b, nil
}

// mapTimeout maps an I/O timeout caused by a context deadline back to the context
// error, keeping a stable error contract for callers.
func (c *Conn) mapTimeout(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return cerr
		}
	}
	return err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	_ = c.c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.c.Close()
}

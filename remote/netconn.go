package remote

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/kitsuneislife/keyring-vcm/realtime/ws"
)

// wsNetConn adapts a message-oriented websocket connection to the net.Conn byte
// stream yamux expects. Each Write becomes one binary message; Read drains messages,
// buffering any remainder.
type wsNetConn struct {
	c *ws.Conn

	mu            sync.Mutex
	readBuf       []byte
	readDeadline  time.Time
	writeDeadline time.Time
}

func newWSNetConn(c *ws.Conn) *wsNetConn {
	return &wsNetConn{c: c}
}

func (n *wsNetConn) Read(p []byte) (int, error) {
	n.mu.Lock()
	if len(n.readBuf) > 0 {
		c := copy(p, n.readBuf)
		n.readBuf = n.readBuf[c:]
		n.mu.Unlock()
		return c, nil
	}
	deadline := n.readDeadline
	n.mu.Unlock()

	ctx, cancel := deadlineContext(deadline)
	defer cancel()
	b, err := n.c.ReadBinary(ctx)
	if err != nil {
		return 0, err
	}
	c := copy(p, b)
	if c < len(b) {
		n.mu.Lock()
		n.readBuf = append(n.readBuf, b[c:]...)
		n.mu.Unlock()
	}
	return c, nil
}

func (n *wsNetConn) Write(p []byte) (int, error) {
	n.mu.Lock()
	deadline := n.writeDeadline
	n.mu.Unlock()

	ctx, cancel := deadlineContext(deadline)
	defer cancel()
	if err := n.c.WriteBinary(ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func deadlineContext(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.Background(), func() {}
	}
	return context.WithDeadline(context.Background(), deadline)
}

func (n *wsNetConn) Close() error {
	return n.c.Close()
}

func (n *wsNetConn) LocalAddr() net.Addr  { return wsAddr("keyring-vcm-local") }
func (n *wsNetConn) RemoteAddr() net.Addr { return wsAddr("keyring-vcm-remote") }

func (n *wsNetConn) SetDeadline(t time.Time) error {
	n.mu.Lock()
	n.readDeadline = t
	n.writeDeadline = t
	n.mu.Unlock()
	return nil
}

func (n *wsNetConn) SetReadDeadline(t time.Time) error {
	n.mu.Lock()
	n.readDeadline = t
	n.mu.Unlock()
	return nil
}

func (n *wsNetConn) SetWriteDeadline(t time.Time) error {
	n.mu.Lock()
	n.writeDeadline = t
	n.mu.Unlock()
	return nil
}

// wsAddr provides a stable net.Addr for message-based transports.
type wsAddr string

func (a wsAddr) Network() string { return string(a) }
func (a wsAddr) String() string  { return string(a) }

package remote

import (
	"context"
	"io"
	"net/http"

	"github.com/hashicorp/yamux"

	"github.com/kitsuneislife/keyring-vcm/realtime/ws"
)

// DialOptions configures a client connection.
type DialOptions struct {
	// Header is sent with the websocket handshake.
	Header http.Header
	// ReadLimit caps incoming websocket messages. Zero uses the server default
	// bound for the default frame size.
	ReadLimit int64
}

// Client multiplexes codec sessions over one websocket connection.
type Client struct {
	conn *ws.Conn
	sess *yamux.Session
}

// Dial connects to a codec service endpoint.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Client, error) {
	conn, _, err := ws.Dial(ctx, urlStr, ws.DialOptions{Header: opts.Header})
	if err != nil {
		return nil, err
	}
	limit := opts.ReadLimit
	if limit <= 0 {
		limit = readLimit(0)
	}
	conn.SetReadLimit(limit)

	sess, err := yamux.Client(newWSNetConn(conn), yamuxConfig())
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{conn: conn, sess: sess}, nil
}

// SessionOptions narrows the server defaults for one session.
type SessionOptions struct {
	FrameSize  int
	Encoding   string
	Permissive bool
}

// Encrypt streams src through the server-side encryptor for objectID, writing the
// encoded records to dst.
func (c *Client) Encrypt(ctx context.Context, objectID string, dst io.Writer, src io.Reader, opts SessionOptions) (Result, error) {
	return c.run(ctx, Hello{
		Op:        OpEncrypt,
		ObjectID:  objectID,
		FrameSize: opts.FrameSize,
		Encoding:  opts.Encoding,
	}, dst, src)
}

// Decrypt streams encoded records from src through the server-side decryptor for
// objectID, writing authenticated plaintext to dst.
func (c *Client) Decrypt(ctx context.Context, objectID string, dst io.Writer, src io.Reader, opts SessionOptions) (Result, error) {
	return c.run(ctx, Hello{
		Op:         OpDecrypt,
		ObjectID:   objectID,
		FrameSize:  opts.FrameSize,
		Encoding:   opts.Encoding,
		Permissive: opts.Permissive,
	}, dst, src)
}

func (c *Client) run(ctx context.Context, hello Hello, dst io.Writer, src io.Reader) (Result, error) {
	st, err := c.sess.OpenStream()
	if err != nil {
		return Result{}, err
	}
	defer st.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(deadline)
	}

	if err := writeJSONFrame(st, hello); err != nil {
		return Result{}, err
	}

	// Uploads and downloads interleave on the stream, so the upload runs on its own
	// goroutine while this one drains the output.
	upErr := make(chan error, 1)
	go func() {
		cw := &chunkWriter{w: st}
		if _, err := io.Copy(cw, src); err != nil {
			upErr <- err
			return
		}
		upErr <- cw.closeData()
	}()

	if _, err := io.Copy(dst, &chunkReader{r: st}); err != nil {
		return Result{}, err
	}
	var res Result
	if err := readJSONFrame(st, MaxResultBytes, &res); err != nil {
		return Result{}, err
	}
	if err := <-upErr; err != nil && res.OK {
		return res, err
	}
	if !res.OK {
		return res, &Error{Code: res.Code, Message: res.Error}
	}
	return res, nil
}

// Close tears down the session and the underlying connection.
func (c *Client) Close() error {
	err := c.sess.Close()
	if cerr := c.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

package remote

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
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
		b[i] = byte(i*29 + 11)
	}
	return b
}

func startServer(t *testing.T) (*Client, func()) {
	t.Helper()
	srv, err := NewServer(ServerConfig{Master: testMaster()})
	if err != nil {
		t.Fatalf("new server failed: %v", err)
	}
	hs := httptest.NewServer(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"), DialOptions{})
	if err != nil {
		hs.Close()
		t.Fatalf("dial failed: %v", err)
	}
	return c, func() {
		_ = c.Close()
		hs.Close()
	}
}

func TestRemoteRoundTrip(t *testing.T) {
	c, stop := startServer(t)
	defer stop()

	plaintext := testPayload(3*1024 + 17)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var sealed bytes.Buffer
	res, err := c.Encrypt(ctx, "video-1", &sealed, bytes.NewReader(plaintext), SessionOptions{FrameSize: 1024})
	if err != nil {
		t.Fatalf("remote encrypt failed: %v", err)
	}
	if !res.OK || res.Frames != 4 {
		t.Fatalf("unexpected encrypt result: %+v", res)
	}
	if res.Bytes != uint64(len(plaintext)) {
		t.Fatalf("expected %d bytes, got %d", len(plaintext), res.Bytes)
	}

	var out bytes.Buffer
	res, err = c.Decrypt(ctx, "video-1", &out, bytes.NewReader(sealed.Bytes()), SessionOptions{FrameSize: 1024})
	if err != nil {
		t.Fatalf("remote decrypt failed: %v", err)
	}
	if !res.OK || res.Frames != 4 {
		t.Fatalf("unexpected decrypt result: %+v", res)
	}
	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Fatal("round trip mismatch")
	}
}

func TestRemoteRejectsBadObjectID(t *testing.T) {
	c, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var sealed bytes.Buffer
	_, err := c.Encrypt(ctx, "not valid", &sealed, strings.NewReader("x"), SessionOptions{})
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected remote.Error, got %v", err)
	}
	if rerr.Code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", rerr.Code)
	}
}

func TestRemoteDecryptWrongObjectID(t *testing.T) {
	c, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var sealed bytes.Buffer
	if _, err := c.Encrypt(ctx, "video-1", &sealed, strings.NewReader("payload"), SessionOptions{FrameSize: 1024}); err != nil {
		t.Fatalf("remote encrypt failed: %v", err)
	}
	var out bytes.Buffer
	_, err := c.Decrypt(ctx, "video-2", &out, bytes.NewReader(sealed.Bytes()), SessionOptions{FrameSize: 1024})
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected remote.Error, got %v", err)
	}
	if rerr.Code != "auth_error" {
		t.Fatalf("expected auth_error, got %q", rerr.Code)
	}
}

func TestRemoteConcurrentSessions(t *testing.T) {
	c, stop := startServer(t)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	const sessions = 4
	errCh := make(chan error, sessions)
	for i := 0; i < sessions; i++ {
		go func(i int) {
			plaintext := testPayload(2048 + i)
			objectID := "object-" + string(rune('a'+i))
			var sealed bytes.Buffer
			if _, err := c.Encrypt(ctx, objectID, &sealed, bytes.NewReader(plaintext), SessionOptions{FrameSize: 1024}); err != nil {
				errCh <- err
				return
			}
			var out bytes.Buffer
			if _, err := c.Decrypt(ctx, objectID, &out, bytes.NewReader(sealed.Bytes()), SessionOptions{FrameSize: 1024}); err != nil {
				errCh <- err
				return
			}
			if !bytes.Equal(out.Bytes(), plaintext) {
				errCh <- &Error{Code: "mismatch", Message: objectID}
				return
			}
			errCh <- nil
		}(i)
	}
	for i := 0; i < sessions; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("session failed: %v", err)
		}
	}
}

func TestChunkFraming(t *testing.T) {
	var buf bytes.Buffer
	cw := &chunkWriter{w: &buf}
	payload := testPayload(3*writeChunkBytes + 123)
	if _, err := cw.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := cw.closeData(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	cr := &chunkReader{r: &buf}
	var out bytes.Buffer
	if _, err := out.ReadFrom(cr); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Fatal("chunk framing round trip mismatch")
	}
}

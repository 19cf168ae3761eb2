package remote

import (
	"io"
	"net/http"

	"github.com/hashicorp/yamux"
	"github.com/pion/logging"

	"github.com/kitsuneislife/keyring-vcm/codec"
	"github.com/kitsuneislife/keyring-vcm/keyring"
	"github.com/kitsuneislife/keyring-vcm/kverrors"
	"github.com/kitsuneislife/keyring-vcm/realtime/ws"
	"github.com/kitsuneislife/keyring-vcm/stream"
	"github.com/kitsuneislife/keyring-vcm/transcode"
)

// ServerConfig configures the codec service.
type ServerConfig struct {
	// Master is the operator-held master secret. Required.
	Master []byte
	// Codec carries the session defaults. A hello may narrow FrameSize, Encoding,
	// and Permissive per session.
	Codec codec.Config
	// CheckOrigin is passed to the websocket upgrader. Nil accepts same-origin only
	// (the gorilla default).
	CheckOrigin func(r *http.Request) bool
	// LoggerFactory creates the server's loggers. Nil uses the default factory.
	LoggerFactory logging.LoggerFactory
}

// Server serves codec sessions over websocket + yamux. It implements http.Handler
// for its websocket endpoint.
type Server struct {
	cfg ServerConfig
	log logging.LeveledLogger
}

// NewServer validates the config and returns a server. The master secret is
// validated up front so a misconfigured daemon fails at startup, not per request.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := keyring.ValidateMaster(cfg.Master); err != nil {
		return nil, err
	}
	normalized, err := normalizeSessionConfig(cfg.Codec, Hello{})
	if err != nil {
		return nil, err
	}
	cfg.Codec = normalized
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Server{cfg: cfg, log: lf.NewLogger("keyring-vcm")}, nil
}

// ServeHTTP upgrades the request and serves one yamux session until the peer goes
// away. Each accepted stream is one codec session handled on its own goroutine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{CheckOrigin: s.cfg.CheckOrigin})
	if err != nil {
		s.log.Warnf("upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(readLimit(s.cfg.Codec.FrameSize))

	sess, err := yamux.Server(newWSNetConn(conn), yamuxConfig())
	if err != nil {
		s.log.Warnf("yamux server failed: %v", err)
		_ = conn.Close()
		return
	}
	defer sess.Close()

	for {
		st, err := sess.AcceptStream()
		if err != nil {
			return
		}
		go s.handleStream(st)
	}
}

func (s *Server) handleStream(st *yamux.Stream) {
	defer st.Close()

	var hello Hello
	if err := readJSONFrame(st, MaxHelloBytes, &hello); err != nil {
		s.log.Warnf("bad hello: %v", err)
		return
	}
	cfg, err := normalizeSessionConfig(s.cfg.Codec, hello)
	if err != nil {
		s.finish(st, resultFor(0, 0, nil, err))
		return
	}

	src := &chunkReader{r: st}
	dst := &chunkWriter{w: st}

	var stats codec.Stats
	switch hello.Op {
	case OpEncrypt:
		stats, err = codec.EncryptStream(dst, src, s.cfg.Master, hello.ObjectID, cfg)
	case OpDecrypt:
		stats, err = codec.DecryptStream(dst, src, s.cfg.Master, hello.ObjectID, cfg)
	default:
		err = kverrors.Validation("op", "unknown operation %q", hello.Op)
	}
	if err != nil {
		s.log.Infof("session %s %q failed: %v", hello.Op, hello.ObjectID, err)
	} else {
		s.log.Debugf("session %s %q: %d frames, %d bytes", hello.Op, hello.ObjectID, stats.Frames, stats.Bytes)
	}

	var frameErrors []uint32
	for _, fe := range stats.FrameErrors {
		frameErrors = append(frameErrors, fe.Index)
	}
	s.finish(st, resultFor(stats.Frames, stats.Bytes, frameErrors, err))
}

func (s *Server) finish(st *yamux.Stream, res Result) {
	dst := &chunkWriter{w: st}
	if err := dst.closeData(); err != nil {
		return
	}
	if err := writeJSONFrame(st, res); err != nil {
		s.log.Debugf("result write failed: %v", err)
	}
}

// normalizeSessionConfig applies hello overrides onto the server defaults and
// validates the outcome before any key material is touched.
func normalizeSessionConfig(base codec.Config, hello Hello) (codec.Config, error) {
	cfg := base
	if hello.FrameSize != 0 {
		cfg.FrameSize = hello.FrameSize
	}
	if cfg.FrameSize == 0 {
		cfg.FrameSize = stream.DefaultFrameSize
	}
	if err := stream.ValidateFrameSize(cfg.FrameSize); err != nil {
		return cfg, err
	}
	if hello.Encoding != "" {
		enc, err := transcode.ParseEncoding(hello.Encoding)
		if err != nil {
			return cfg, err
		}
		cfg.Encoding = enc
	}
	if hello.Permissive {
		cfg.PermissiveDecrypt = true
	}
	return cfg, nil
}

// readLimit bounds a single websocket message. Yamux frames its own traffic far
// below this; the bound only guards against a broken peer.
func readLimit(frameSize int) int64 {
	if frameSize <= 0 {
		frameSize = stream.DefaultFrameSize
	}
	// One envelope record plus protocol overhead, with room for yamux headers.
	return int64(frameSize) + 1<<16
}

func yamuxConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	return cfg
}

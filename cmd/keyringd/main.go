// Command keyringd serves the codec as a network service: websocket + yamux codec
// sessions, a health endpoint, and optional Prometheus metrics. The master secret is
// loaded from a key file and never leaves the process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/kitsuneislife/keyring-vcm/codec"
	"github.com/kitsuneislife/keyring-vcm/internal/secmem"
	"github.com/kitsuneislife/keyring-vcm/internal/version"
	"github.com/kitsuneislife/keyring-vcm/keyring"
	"github.com/kitsuneislife/keyring-vcm/observability"
	"github.com/kitsuneislife/keyring-vcm/observability/prom"
	"github.com/kitsuneislife/keyring-vcm/remote"
	"github.com/kitsuneislife/keyring-vcm/transcode"
)

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Listen     string `json:"listen"`
	WSPath     string `json:"ws_path"`
	WSURL      string `json:"ws_url"`
	HealthzURL string `json:"healthz_url"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	listen := envString("KVCM_LISTEN", "127.0.0.1:0")
	wsPath := envString("KVCM_WS_PATH", "/codec")
	masterFile := envString("KVCM_MASTER_FILE", "")
	frameSize := envInt("KVCM_FRAME_SIZE", 0)
	encoding := envString("KVCM_ENCODING", "")
	metricsOn := envBool("KVCM_METRICS", false)
	logLevel := envString("KVCM_LOG_LEVEL", "info")

	fs := flag.NewFlagSet("keyringd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&listen, "listen", listen, "listen address")
	fs.StringVar(&wsPath, "ws-path", wsPath, "websocket endpoint path")
	fs.StringVar(&masterFile, "master-file", masterFile, "path to the master key file (required)")
	fs.IntVar(&frameSize, "frame-size", frameSize, "default frame payload size in bytes (0 uses the built-in default)")
	fs.StringVar(&encoding, "encoding", encoding, "default record encoding: binary, hex, or base64")
	fs.BoolVar(&metricsOn, "metrics", metricsOn, "expose Prometheus metrics on /metrics")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: debug, info, warn, or error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "keyringd %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}
	if masterFile == "" {
		fmt.Fprintln(stderr, "keyringd: --master-file is required")
		return 2
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = parseLogLevel(logLevel)
	log := lf.NewLogger("keyringd")

	master, err := keyring.LoadMasterFile(masterFile)
	if err != nil {
		fmt.Fprintf(stderr, "keyringd: load master: %v\n", err)
		return 1
	}
	defer secmem.Zero(master)

	enc, err := transcode.ParseEncoding(encoding)
	if err != nil {
		fmt.Fprintf(stderr, "keyringd: %v\n", err)
		return 2
	}

	observer := observability.NewAtomicCodecObserver()
	srv, err := remote.NewServer(remote.ServerConfig{
		Master: master,
		Codec: codec.Config{
			FrameSize: frameSize,
			Encoding:  enc,
			Observer:  observer,
		},
		LoggerFactory: lf,
	})
	if err != nil {
		fmt.Fprintf(stderr, "keyringd: %v\n", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle(wsPath, srv)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}` + "\n"))
	})
	metricsURL := ""
	if metricsOn {
		reg := prom.NewRegistry()
		observer.Set(prom.NewCodecObserver(reg))
		mux.Handle("/metrics", prom.Handler(reg))
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintf(stderr, "keyringd: listen: %v\n", err)
		return 1
	}
	addr := ln.Addr().String()
	if metricsOn {
		metricsURL = "http://" + addr + "/metrics"
	}

	info := ready{
		Version:    version.Version,
		Commit:     version.Commit,
		Date:       version.Date,
		Listen:     addr,
		WSPath:     wsPath,
		WSURL:      "ws://" + addr + wsPath,
		HealthzURL: "http://" + addr + "/healthz",
		MetricsURL: metricsURL,
	}
	if b, err := json.Marshal(info); err == nil {
		fmt.Fprintln(stdout, string(b))
	}
	log.Infof("listening on %s (master %s)", addr, keyring.Fingerprint(master))

	httpSrv := &http.Server{Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("shutting down on %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("serve failed: %v", err)
			return 1
		}
		return 0
	}
}

func parseLogLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

func envString(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

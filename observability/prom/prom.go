// Package prom exports codec metrics to Prometheus.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kitsuneislife/keyring-vcm/observability"
)

// NewRegistry returns a fresh Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler returns a Prometheus HTTP handler bound to the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// CodecObserver exports codec metrics to Prometheus.
type CodecObserver struct {
	framesSealed  prometheus.Counter
	framesOpened  prometheus.Counter
	bytesSealed   prometheus.Counter
	bytesOpened   prometheus.Counter
	authFailures  prometheus.Counter
	sessionsTotal *prometheus.CounterVec
}

// NewCodecObserver registers codec metrics on the registry.
func NewCodecObserver(reg *prometheus.Registry) *CodecObserver {
	o := &CodecObserver{
		framesSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyringvcm_frames_sealed_total",
			Help: "Frames encrypted.",
		}),
		framesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyringvcm_frames_opened_total",
			Help: "Frames decrypted and authenticated.",
		}),
		bytesSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyringvcm_bytes_sealed_total",
			Help: "Ciphertext payload bytes produced.",
		}),
		bytesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyringvcm_bytes_opened_total",
			Help: "Plaintext bytes recovered.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keyringvcm_auth_failures_total",
			Help: "Frames that failed tag verification.",
		}),
		sessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keyringvcm_sessions_total",
			Help: "Codec sessions by operation and result.",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(
		o.framesSealed,
		o.framesOpened,
		o.bytesSealed,
		o.bytesOpened,
		o.authFailures,
		o.sessionsTotal,
	)
	return o
}

func (o *CodecObserver) FrameSealed(payloadBytes int) {
	o.framesSealed.Inc()
	o.bytesSealed.Add(float64(payloadBytes))
}

func (o *CodecObserver) FrameOpened(payloadBytes int) {
	o.framesOpened.Inc()
	o.bytesOpened.Add(float64(payloadBytes))
}

func (o *CodecObserver) AuthFailure() {
	o.authFailures.Inc()
}

func (o *CodecObserver) SessionDone(op observability.SessionOp, result observability.SessionResult) {
	o.sessionsTotal.WithLabelValues(string(op), string(result)).Inc()
}

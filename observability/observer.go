// Package observability defines the metric observer interfaces for the codec. The
// codec layers report events through a CodecObserver; callers plug in the Prometheus
// adapter from observability/prom or leave the zero-cost no-op in place.
package observability

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kitsuneislife/keyring-vcm/kverrors"
)

// SessionOp labels the direction of a codec session.
type SessionOp string

const (
	OpEncrypt SessionOp = "encrypt"
	OpDecrypt SessionOp = "decrypt"
)

// SessionResult classifies how a codec session ended.
type SessionResult string

const (
	ResultOK         SessionResult = "ok"
	ResultValidation SessionResult = "validation_error"
	ResultSecurity   SessionResult = "security_error"
	ResultAuth       SessionResult = "auth_error"
	ResultFormat     SessionResult = "format_error"
	ResultOrder      SessionResult = "order_error"
	ResultIO         SessionResult = "io_error"
)

// ResultOf maps a session error to its result label.
func ResultOf(err error) SessionResult {
	if err == nil {
		return ResultOK
	}
	var (
		ve *kverrors.ValidationError
		se *kverrors.SecurityError
		ae *kverrors.AuthError
		fe *kverrors.FormatError
		oe *kverrors.OrderError
		ie *kverrors.IOError
	)
	switch {
	case errors.As(err, &ve):
		return ResultValidation
	case errors.As(err, &se):
		return ResultSecurity
	case errors.As(err, &ae):
		return ResultAuth
	case errors.As(err, &fe):
		return ResultFormat
	case errors.As(err, &oe):
		return ResultOrder
	case errors.As(err, &ie):
		return ResultIO
	}
	return ResultIO
}

// CodecObserver receives codec-level metric events.
type CodecObserver interface {
	// FrameSealed reports one encrypted frame and its ciphertext payload size.
	FrameSealed(payloadBytes int)
	// FrameOpened reports one authenticated frame and its plaintext size.
	FrameOpened(payloadBytes int)
	// AuthFailure reports one frame that failed tag verification.
	AuthFailure()
	// SessionDone reports a finished session with its outcome.
	SessionDone(op SessionOp, result SessionResult)
}

type noopCodecObserver struct{}

func (noopCodecObserver) FrameSealed(int)                      {}
func (noopCodecObserver) FrameOpened(int)                      {}
func (noopCodecObserver) AuthFailure()                         {}
func (noopCodecObserver) SessionDone(SessionOp, SessionResult) {}

// NoopCodecObserver is a zero-cost observer used when metrics are disabled.
var NoopCodecObserver CodecObserver = noopCodecObserver{}

// AtomicCodecObserver swaps its delegate at runtime, so a daemon can enable or
// disable metrics without rebuilding its codec plumbing.
type AtomicCodecObserver struct {
	once sync.Once
	v    atomic.Value
}

type codecObserverHolder struct {
	obs CodecObserver
}

// NewAtomicCodecObserver returns an initialized atomic observer delegating to the
// no-op observer.
func NewAtomicCodecObserver() *AtomicCodecObserver {
	a := &AtomicCodecObserver{}
	a.once.Do(func() { a.v.Store(&codecObserverHolder{obs: NoopCodecObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicCodecObserver) Set(obs CodecObserver) {
	if obs == nil {
		obs = NoopCodecObserver
	}
	a.once.Do(func() { a.v.Store(&codecObserverHolder{obs: NoopCodecObserver}) })
	a.v.Store(&codecObserverHolder{obs: obs})
}

func (a *AtomicCodecObserver) load() CodecObserver {
	a.once.Do(func() { a.v.Store(&codecObserverHolder{obs: NoopCodecObserver}) })
	return a.v.Load().(*codecObserverHolder).obs
}

func (a *AtomicCodecObserver) FrameSealed(n int) { a.load().FrameSealed(n) }
func (a *AtomicCodecObserver) FrameOpened(n int) { a.load().FrameOpened(n) }
func (a *AtomicCodecObserver) AuthFailure()      { a.load().AuthFailure() }
func (a *AtomicCodecObserver) SessionDone(op SessionOp, result SessionResult) {
	a.load().SessionDone(op, result)
}

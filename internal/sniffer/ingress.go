package sniffer

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"solsniper/internal/concurrency"
	"solsniper/internal/logger"
	"solsniper/internal/rpc"
)

// IngressState is the ingress task's state machine (spec §4.B):
// Connecting → Streaming → Reconnecting(attempt), with Reconnecting →
// Streaming on success and a bounded max-attempts escalation.
type IngressState int32

const (
	Connecting IngressState = iota
	Streaming
	Reconnecting
)

func (s IngressState) String() string {
	switch s {
	case Streaming:
		return "streaming"
	case Reconnecting:
		return "reconnecting"
	default:
		return "connecting"
	}
}

// maxReconnectAttempts bounds the Reconnecting state before raising a
// supervisor-visible degradation signal (spec §4.B.1).
const maxReconnectAttempts = 20

// minReconnectInterval is the floor the reconnect pacer enforces regardless
// of backoff state, so a subscriber that fails instantly (no network delay
// at all) can never hot-loop connection attempts.
const minReconnectInterval = 50 * time.Millisecond

// Ingress runs task T1: owns the upstream stream, applies the prefilter and
// handoff pipeline, and reconnects with exponential backoff on disconnect.
type Ingress struct {
	sub rpc.Subscriber
	log *logger.Logger

	state          int32 // atomic IngressState
	reconnectCount int64 // atomic, monotonic

	pace *rate.Limiter // floor on reconnect attempt frequency

	degraded chan struct{} // closed once when max attempts are exceeded
}

func NewIngress(sub rpc.Subscriber, log *logger.Logger) *Ingress {
	return &Ingress{
		sub:      sub,
		log:      log,
		pace:     rate.NewLimiter(rate.Every(minReconnectInterval), 1),
		degraded: make(chan struct{}),
	}
}

func (ing *Ingress) State() IngressState {
	return IngressState(atomic.LoadInt32(&ing.state))
}

func (ing *Ingress) ReconnectCount() int64 {
	return atomic.LoadInt64(&ing.reconnectCount)
}

// Degraded is closed if the ingress task exceeds maxReconnectAttempts
// without establishing a stream, signalling a supervisor-visible
// degradation per spec §4.B.
func (ing *Ingress) Degraded() <-chan struct{} { return ing.degraded }

// Run drains frames from the upstream subscriber into handle until ctx is
// canceled, reconnecting on disconnect with the spec's exponential backoff
// (50ms -> 5s, jitter ±20%).
func (ing *Ingress) Run(ctx context.Context, handle func(rpc.Frame)) {
	backoff := concurrency.NewExponentialBackoff(concurrency.DefaultBackoffConfig())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		atomic.StoreInt32(&ing.state, int32(Connecting))
		frames, err := ing.sub.Stream(ctx)
		if err != nil {
			if !ing.enterReconnecting(ctx, backoff) {
				return
			}
			continue
		}

		atomic.StoreInt32(&ing.state, int32(Streaming))
		backoff.Reset()

		streamErr := ing.drain(ctx, frames, handle)
		if streamErr == nil {
			return // ctx canceled cleanly
		}

		if !ing.enterReconnecting(ctx, backoff) {
			return
		}
	}
}

// drain forwards frames to handle until the channel closes or ctx is done.
// Returns nil only on clean ctx cancellation.
func (ing *Ingress) drain(ctx context.Context, frames <-chan rpc.Frame, handle func(rpc.Frame)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return errStreamClosed
			}
			handle(frame)
		}
	}
}

var errStreamClosed = ingressErr("sniffer: upstream stream closed")

type ingressErr string

func (e ingressErr) Error() string { return string(e) }

// enterReconnecting waits out one backoff delay, incrementing the
// reconnect counter. Returns false only if ctx was canceled during the
// wait. Once maxReconnectAttempts is reached it signals degradation but
// still returns true, so reconnecting continues.
func (ing *Ingress) enterReconnecting(ctx context.Context, backoff *concurrency.ExponentialBackoff) bool {
	atomic.StoreInt32(&ing.state, int32(Reconnecting))
	atomic.AddInt64(&ing.reconnectCount, 1)

	if backoff.Attempts() >= maxReconnectAttempts {
		ing.signalDegraded()
	}

	if err := ing.pace.Wait(ctx); err != nil {
		return false
	}

	delay := backoff.NextDelay()
	if ing.log != nil {
		ing.log.Warn("sniffer ingress reconnecting", "attempt", backoff.Attempts(), "delay", delay.String())
	}

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (ing *Ingress) signalDegraded() {
	select {
	case <-ing.degraded:
	default:
		close(ing.degraded)
	}
}

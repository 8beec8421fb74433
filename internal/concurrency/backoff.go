package concurrency

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ============================================
// Backoff, retry, and circuit-breaker primitives shared by the sniffer's
// ingress reconnect loop, the nonce pool's RPC probes, and the buy engine's
// acquire/broadcast retries.
// ============================================

// BackoffConfig parameterizes ExponentialBackoff.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	MaxRetries   int // -1 for unlimited
}

// DefaultBackoffConfig matches the sniffer ingress reconnect defaults from
// spec §4.B.1: 50ms initial, 5s cap, ±20% jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		MaxRetries:   -1,
	}
}

// ExponentialBackoff implements exponential backoff with optional ±20%
// jitter.
type ExponentialBackoff struct {
	config     BackoffConfig
	attempts   int
	lastDelay  time.Duration
	totalDelay time.Duration
}

func NewExponentialBackoff(config BackoffConfig) *ExponentialBackoff {
	return &ExponentialBackoff{config: config, lastDelay: config.InitialDelay}
}

func (eb *ExponentialBackoff) Reset() {
	eb.attempts = 0
	eb.lastDelay = eb.config.InitialDelay
	eb.totalDelay = 0
}

// NextDelay returns the delay to wait before the next attempt, or 0 if the
// retry budget is exhausted.
func (eb *ExponentialBackoff) NextDelay() time.Duration {
	if eb.config.MaxRetries >= 0 && eb.attempts >= eb.config.MaxRetries {
		return 0
	}

	delay := eb.lastDelay
	if eb.config.Jitter {
		// full jitter in [0.8, 1.2] of the nominal delay, i.e. ±20%
		jitterFactor := 0.8 + rand.Float64()*0.4
		delay = time.Duration(float64(delay) * jitterFactor)
	}
	if delay > eb.config.MaxDelay {
		delay = eb.config.MaxDelay
	}

	eb.lastDelay = time.Duration(float64(eb.lastDelay) * eb.config.Multiplier)
	if eb.lastDelay > eb.config.MaxDelay {
		eb.lastDelay = eb.config.MaxDelay
	}

	eb.attempts++
	eb.totalDelay += delay
	return delay
}

func (eb *ExponentialBackoff) Attempts() int            { return eb.attempts }
func (eb *ExponentialBackoff) TotalDelay() time.Duration { return eb.totalDelay }

func (eb *ExponentialBackoff) ShouldRetry() bool {
	if eb.config.MaxRetries < 0 {
		return true
	}
	return eb.attempts < eb.config.MaxRetries
}

// RetryWithBackoff runs fn until it succeeds or the backoff budget runs out.
func RetryWithBackoff(fn func() error, config BackoffConfig) error {
	backoff := NewExponentialBackoff(config)

	var lastErr error
	for backoff.ShouldRetry() {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		delay := backoff.NextDelay()
		if delay == 0 {
			break
		}
		time.Sleep(delay)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", backoff.Attempts(), lastErr)
}

// CircuitState is the three-state gate from spec §3/§4.E.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures CircuitBreaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	Window           time.Duration // failures older than this no longer count toward the threshold
	RecoveryTimeout  time.Duration // time to wait in Open before trying HalfOpen
	SuccessThreshold int           // successes needed in HalfOpen to close
	ExpectedFailures []string      // substrings of error messages that never count as failures
}

// CircuitBreaker is a windowed consecutive-failure circuit breaker: failures
// only count toward FailureThreshold while they land inside Window of the
// first failure of the current run (a later failure starts a new run), so a
// slow trickle of isolated errors never trips it the way a true burst does.
type CircuitBreaker struct {
	mu sync.Mutex

	name         string
	state        CircuitState
	failures     int
	windowStart  time.Time
	lastFailTime time.Time
	successes    int
	config       CircuitBreakerConfig
}

func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 10
	}
	if config.Window == 0 {
		config.Window = 60 * time.Second
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{name: config.Name, state: StateClosed, config: config}
}

// Call executes fn only if the breaker currently permits it, then records
// the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.CanExecute() {
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}
	err := fn()
	cb.RecordResult(err)
	return err
}

// CanExecute reports whether a call may proceed right now, transitioning
// Open→HalfOpen once the recovery cooldown has elapsed (spec §4.E step 2).
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastFailTime) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.successes = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordResult updates the breaker's state machine from a call outcome.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := err != nil && !cb.isExpectedFailure(err)
	now := time.Now()

	switch cb.state {
	case StateClosed:
		if isFailure {
			if cb.failures == 0 || now.Sub(cb.windowStart) > cb.config.Window {
				cb.windowStart = now
				cb.failures = 0
			}
			cb.failures++
			cb.lastFailTime = now
			if cb.failures >= cb.config.FailureThreshold {
				cb.state = StateOpen
			}
		} else {
			cb.failures = 0
		}

	case StateHalfOpen:
		if isFailure {
			cb.state = StateOpen
			cb.failures = cb.config.FailureThreshold
			cb.lastFailTime = now
		} else {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
			}
		}
	}
}

func (cb *CircuitBreaker) isExpectedFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, expected := range cb.config.ExpectedFailures {
		if strings.Contains(msg, expected) {
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failures":          cb.failures,
		"successes":         cb.successes,
		"last_failure":      cb.lastFailTime,
		"failure_threshold": cb.config.FailureThreshold,
		"recovery_timeout":  cb.config.RecoveryTimeout,
	}
}

// AdaptiveBackoff scales a base exponential backoff by a load factor set
// through AdjustLoadFactor, so a caller can back off harder when the host
// itself is under pressure. Nothing outside this package's tests constructs
// one; the nonce pool's Acquire uses a plain ExponentialBackoff.
type AdaptiveBackoff struct {
	baseBackoff *ExponentialBackoff
	loadFactor  float64
	lastAdjust  time.Time
}

func NewAdaptiveBackoff(config BackoffConfig) *AdaptiveBackoff {
	return &AdaptiveBackoff{baseBackoff: NewExponentialBackoff(config), loadFactor: 1.0}
}

func (ab *AdaptiveBackoff) NextDelay() time.Duration {
	base := ab.baseBackoff.NextDelay()
	adjusted := time.Duration(float64(base) * ab.loadFactor)
	const maxDelay = 5 * time.Minute
	if adjusted > maxDelay {
		adjusted = maxDelay
	}
	return adjusted
}

// AdjustLoadFactor scales future delays based on 0-100 CPU/memory usage
// percentages. loadFactor ranges [0.5, 3.0].
func (ab *AdaptiveBackoff) AdjustLoadFactor(cpuUsage, memoryUsage float64) {
	pressure := (cpuUsage + memoryUsage) / 200.0
	factor := 1.0 + pressure*2.0
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 3.0 {
		factor = 3.0
	}
	ab.loadFactor = factor
	ab.lastAdjust = time.Now()
}

func (ab *AdaptiveBackoff) Reset() {
	ab.baseBackoff.Reset()
	ab.loadFactor = 1.0
}

// SampleSystemLoad reads current CPU and memory utilization (0-100 scale)
// via gopsutil. Its caller is the engine's load sampler, which turns the
// sample into the priority fee's congestion factor. A sampling failure is
// reported as zero load rather
// than propagated, since load sampling is a best-effort input, never a
// correctness requirement.
func SampleSystemLoad() (cpuPct, memPct float64) {
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		cpuPct = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		memPct = vm.UsedPercent
	}
	return cpuPct, memPct
}

// FailureRateTracker tracks a rolling failure rate over a fixed window,
// used by the engine's priority-fee calculation (submission failure rate
// factor, spec §4.E).
type FailureRateTracker struct {
	failures    *AtomicCounter
	totalCalls  *AtomicCounter
	windowStart time.Time
	windowSize  time.Duration
}

func NewFailureRateTracker(windowSize time.Duration) *FailureRateTracker {
	return &FailureRateTracker{
		failures:    NewAtomicCounter(0),
		totalCalls:  NewAtomicCounter(0),
		windowStart: time.Now(),
		windowSize:  windowSize,
	}
}

func (frt *FailureRateTracker) RecordCall(success bool) {
	frt.totalCalls.Increment()
	if !success {
		frt.failures.Increment()
	}
	if time.Since(frt.windowStart) >= frt.windowSize {
		frt.failures.Store(0)
		frt.totalCalls.Store(0)
		frt.windowStart = time.Now()
	}
}

func (frt *FailureRateTracker) FailureRate() float64 {
	total := frt.totalCalls.Load()
	if total == 0 {
		return 0.0
	}
	return float64(frt.failures.Load()) / float64(total)
}

func (frt *FailureRateTracker) ShouldThrottle(threshold float64) bool {
	return frt.FailureRate() > threshold
}

package concurrency_test

import (
	"errors"
	"testing"
	"time"

	"solsniper/internal/concurrency"
)

func TestExponentialBackoff_CapsAtMaxDelay(t *testing.T) {
	cfg := concurrency.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		MaxRetries:   -1,
	}
	eb := concurrency.NewExponentialBackoff(cfg)

	var last time.Duration
	for i := 0; i < 10; i++ {
		last = eb.NextDelay()
		if last > cfg.MaxDelay {
			t.Fatalf("attempt %d: delay %v exceeds MaxDelay %v", i, last, cfg.MaxDelay)
		}
	}
	if last != cfg.MaxDelay {
		t.Fatalf("expected delay to converge to MaxDelay, got %v", last)
	}
	if eb.Attempts() != 10 {
		t.Fatalf("expected 10 attempts recorded, got %d", eb.Attempts())
	}
}

func TestExponentialBackoff_JitterStaysWithinBand(t *testing.T) {
	cfg := concurrency.BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   1.0,
		Jitter:       true,
		MaxRetries:   -1,
	}
	eb := concurrency.NewExponentialBackoff(cfg)

	lo := time.Duration(float64(cfg.InitialDelay) * 0.8)
	hi := cfg.MaxDelay // clamped by MaxDelay, which also bounds the +20% jitter here
	for i := 0; i < 50; i++ {
		d := eb.NextDelay()
		if d < lo || d > hi {
			t.Fatalf("attempt %d: jittered delay %v outside [%v, %v]", i, d, lo, hi)
		}
	}
}

func TestExponentialBackoff_MaxRetriesExhausts(t *testing.T) {
	cfg := concurrency.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 2, MaxRetries: 3}
	eb := concurrency.NewExponentialBackoff(cfg)

	for i := 0; i < 3; i++ {
		if d := eb.NextDelay(); d == 0 {
			t.Fatalf("attempt %d: expected a nonzero delay within budget", i)
		}
	}
	if d := eb.NextDelay(); d != 0 {
		t.Fatalf("expected 0 once retry budget is exhausted, got %v", d)
	}
	if eb.ShouldRetry() {
		t.Fatalf("expected ShouldRetry false once MaxRetries attempts have been consumed")
	}
}

func TestRetryWithBackoff_SucceedsBeforeExhaustion(t *testing.T) {
	cfg := concurrency.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 5}
	attempts := 0
	err := concurrency.RetryWithBackoff(func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, cfg)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoff_ReturnsLastErrorOnExhaustion(t *testing.T) {
	cfg := concurrency.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, MaxRetries: 2}
	wantErr := errors.New("permanent failure")
	err := concurrency.RetryWithBackoff(func() error { return wantErr }, cfg)
	if err == nil {
		t.Fatalf("expected an error once the retry budget is exhausted")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the returned error to wrap the last error, got %v", err)
	}
}

func testBreaker(maxFailures int, recovery time.Duration) *concurrency.CircuitBreaker {
	return concurrency.NewCircuitBreaker(concurrency.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: maxFailures,
		Window:           time.Minute,
		RecoveryTimeout:  recovery,
		SuccessThreshold: 1,
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := testBreaker(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !cb.CanExecute() {
			t.Fatalf("expected CanExecute true before the breaker trips (iteration %d)", i)
		}
		cb.RecordResult(errors.New("boom"))
	}
	if cb.State() != concurrency.StateOpen {
		t.Fatalf("expected state Open after %d consecutive failures, got %v", 3, cb.State())
	}
	if cb.CanExecute() {
		t.Fatalf("expected CanExecute false while Open and within the recovery window")
	}
}

func TestCircuitBreaker_HalfOpenClosesOnSuccess(t *testing.T) {
	cb := testBreaker(2, 20*time.Millisecond)
	cb.RecordResult(errors.New("fail 1"))
	cb.RecordResult(errors.New("fail 2"))
	if cb.State() != concurrency.StateOpen {
		t.Fatalf("expected Open after reaching the failure threshold")
	}

	time.Sleep(30 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected CanExecute true once the recovery timeout has elapsed")
	}
	if cb.State() != concurrency.StateHalfOpen {
		t.Fatalf("expected state HalfOpen immediately after the cooldown transition, got %v", cb.State())
	}

	cb.RecordResult(nil)
	if cb.State() != concurrency.StateClosed {
		t.Fatalf("expected a HalfOpen success to close the breaker, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(1, 10*time.Millisecond)
	cb.RecordResult(errors.New("fail"))
	if cb.State() != concurrency.StateOpen {
		t.Fatalf("expected Open after a single failure with threshold 1")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatalf("expected CanExecute true after cooldown")
	}
	cb.RecordResult(errors.New("fail again in half-open"))
	if cb.State() != concurrency.StateOpen {
		t.Fatalf("expected a HalfOpen failure to reopen the breaker, got %v", cb.State())
	}
}

func TestCircuitBreaker_ExpectedFailuresDoNotCount(t *testing.T) {
	cb := concurrency.NewCircuitBreaker(concurrency.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		Window:           time.Minute,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
		ExpectedFailures: []string{"insufficient funds"},
	})
	cb.RecordResult(errors.New("insufficient funds for trade"))
	if cb.State() != concurrency.StateClosed {
		t.Fatalf("expected an expected failure to leave the breaker Closed, got %v", cb.State())
	}
}

func TestFailureRateTracker_ComputesRatio(t *testing.T) {
	frt := concurrency.NewFailureRateTracker(time.Minute)
	for i := 0; i < 3; i++ {
		frt.RecordCall(true)
	}
	for i := 0; i < 1; i++ {
		frt.RecordCall(false)
	}
	if got := frt.FailureRate(); got != 0.25 {
		t.Fatalf("expected failure rate 0.25, got %v", got)
	}
	if !frt.ShouldThrottle(0.2) {
		t.Fatalf("expected ShouldThrottle(0.2) true at a 0.25 failure rate")
	}
	if frt.ShouldThrottle(0.5) {
		t.Fatalf("expected ShouldThrottle(0.5) false at a 0.25 failure rate")
	}
}

func TestAdaptiveBackoff_LoadFactorScalesDelay(t *testing.T) {
	cfg := concurrency.BackoffConfig{InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 1, Jitter: false, MaxRetries: -1}
	ab := concurrency.NewAdaptiveBackoff(cfg)
	base := ab.NextDelay()

	ab.Reset()
	ab.AdjustLoadFactor(100, 100) // max pressure -> loadFactor clamps to 3.0
	loaded := ab.NextDelay()

	if loaded <= base {
		t.Fatalf("expected a higher load factor to scale the delay up: base=%v loaded=%v", base, loaded)
	}
}

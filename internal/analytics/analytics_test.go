package analytics_test

import (
	"testing"
	"time"

	"solsniper/internal/analytics"
)

func TestAccumulateAndTick_UpdatesEMAs(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())

	state.Accumulate(10)
	state.Accumulate(20)
	now := time.Now()
	state.Tick(now)

	short, long := state.EMAs()
	if short == 0 || long == 0 {
		t.Fatalf("expected non-zero EMAs after first tick, got short=%v long=%v", short, long)
	}
	t.Logf("ema_short=%.4f ema_long=%.4f", short, long)
}

func TestTick_NoSamples_IsNoop(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())
	state.Tick(time.Now())

	short, long := state.EMAs()
	if short != 0 || long != 0 {
		t.Fatalf("expected EMAs to stay zero with no samples, got short=%v long=%v", short, long)
	}
}

func TestIsHighPriority_ColdStartIsFalse(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())
	if state.IsHighPriority(1_000_000) {
		t.Fatalf("expected cold-start IsHighPriority to be false regardless of volume")
	}
}

func TestIsHighPriority_AboveThresholdIsTrue(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())

	// Warm up ema_long with a steady baseline.
	for i := 0; i < 20; i++ {
		state.Accumulate(10)
		state.Tick(time.Now())
	}

	_, long := state.EMAs()
	if long == 0 {
		t.Fatalf("expected ema_long to be warmed up, got 0")
	}

	if !state.IsHighPriority(long * 10) {
		t.Fatalf("expected a volume far above ema_long*threshold to be high priority")
	}
	if state.IsHighPriority(long * 0.1) {
		t.Fatalf("expected a volume far below ema_long*threshold to be low priority")
	}
}

func TestSurgeConfidence_InsufficientHistory(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())
	state.Accumulate(10)
	state.Tick(time.Now())

	if _, ok := state.SurgeConfidence(); ok {
		t.Fatalf("expected surge confidence to report insufficient history early on")
	}
}

func TestSurgeConfidence_DetectsAcceleration(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())

	// 20 flat ticks establish a baseline, then 5 ticks at triple the volume
	// so the "recent 5" window sits entirely in the spike and the "prior 5"
	// window sits entirely in the baseline.
	for i := 0; i < 20; i++ {
		state.Accumulate(10)
		state.Tick(time.Now())
	}
	for i := 0; i < 5; i++ {
		state.Accumulate(30)
		state.Tick(time.Now())
	}

	confidence, ok := state.SurgeConfidence()
	if !ok {
		t.Fatalf("expected surge confidence to trigger after a 3x volume step")
	}
	if confidence == 0 {
		t.Fatalf("expected non-zero confidence, got 0")
	}
	t.Logf("surge confidence=%d", confidence)
}

func TestThreshold_StaysWithinBounds(t *testing.T) {
	state := analytics.New(analytics.DefaultConfig())

	for i := 0; i < 100; i++ {
		vol := 10.0
		if i%2 == 0 {
			vol = 1000.0
		}
		state.Accumulate(vol)
		state.Tick(time.Now())
	}

	threshold := state.Threshold()
	if threshold < 0.5 || threshold > 5.0 {
		t.Fatalf("expected threshold within [0.5, 5.0], got %v", threshold)
	}
}

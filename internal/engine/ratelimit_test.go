package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solsniper/internal/engine"
)

func TestRateLimiter_CapsTradesPerMinute(t *testing.T) {
	rl := engine.NewRateLimiter(2, decimal.NewFromInt(1000), time.Minute)
	small := decimal.NewFromFloat(0.01)

	if !rl.Allow(small) {
		t.Fatalf("expected the first trade to be allowed")
	}
	if !rl.Allow(small) {
		t.Fatalf("expected the second trade to be allowed under a cap of 2/min")
	}
	if rl.Allow(small) {
		t.Fatalf("expected a third trade within the same second to be rejected")
	}
}

func TestRateLimiter_RejectsOverNotionalCap(t *testing.T) {
	rl := engine.NewRateLimiter(100, decimal.NewFromFloat(1.0), time.Minute)

	if !rl.Allow(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected a 0.6 notional trade to be allowed under a 1.0 cap")
	}
	if rl.Allow(decimal.NewFromFloat(0.6)) {
		t.Fatalf("expected a second 0.6 notional trade to breach the 1.0 window cap")
	}
	if !rl.Allow(decimal.NewFromFloat(0.3)) {
		t.Fatalf("expected a smaller trade that fits the remaining budget to be allowed")
	}
}

func TestRateLimiter_WindowResets(t *testing.T) {
	rl := engine.NewRateLimiter(100, decimal.NewFromFloat(1.0), 30*time.Millisecond)

	if !rl.Allow(decimal.NewFromFloat(0.9)) {
		t.Fatalf("expected the first trade to be allowed")
	}
	if rl.Allow(decimal.NewFromFloat(0.9)) {
		t.Fatalf("expected a second trade to breach the notional cap within the same window")
	}

	time.Sleep(40 * time.Millisecond)
	if !rl.Allow(decimal.NewFromFloat(0.9)) {
		t.Fatalf("expected the notional budget to reset once the window rolls over")
	}
}

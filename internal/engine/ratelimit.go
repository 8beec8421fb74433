package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// RateLimiter enforces the buy engine's trades/minute cap and a rolling
// notional cap (spec §4.E step 3, spec §6 engine.rate_cap_per_min /
// engine.max_notional_per_window). Grounded on the teacher's use of
// golang.org/x/time/rate in internal/agent/voice_handler.go, extended with
// a notional window the stdlib token bucket has no notion of.
type RateLimiter struct {
	trades *rate.Limiter

	mu             sync.Mutex
	windowStart    time.Time
	windowNotional decimal.Decimal
	maxNotional    decimal.Decimal
	windowPeriod   time.Duration
}

// NewRateLimiter builds a limiter allowing tradesPerMin trades/minute and
// capping cumulative notional per windowPeriod at maxNotional.
func NewRateLimiter(tradesPerMin int, maxNotional decimal.Decimal, windowPeriod time.Duration) *RateLimiter {
	if tradesPerMin <= 0 {
		tradesPerMin = 10
	}
	if windowPeriod <= 0 {
		windowPeriod = time.Minute
	}
	return &RateLimiter{
		trades:       rate.NewLimiter(rate.Limit(float64(tradesPerMin)/60.0), tradesPerMin),
		maxNotional:  maxNotional,
		windowPeriod: windowPeriod,
	}
}

// Allow reports whether a trade of the given notional may proceed right
// now, and if so reserves both the token-bucket slot and the notional
// budget. A denial performs no side effect.
func (r *RateLimiter) Allow(notional decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.windowStart.IsZero() || now.Sub(r.windowStart) > r.windowPeriod {
		r.windowStart = now
		r.windowNotional = decimal.Zero
	}

	if r.windowNotional.Add(notional).GreaterThan(r.maxNotional) {
		return false
	}
	if !r.trades.AllowN(now, 1) {
		return false
	}

	r.windowNotional = r.windowNotional.Add(notional)
	return true
}

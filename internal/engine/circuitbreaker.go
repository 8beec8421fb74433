package engine

import (
	"time"

	"solsniper/internal/concurrency"
)

// CircuitBreakerConfig names the two engine-specific circuit breaker
// tunables from spec §6 (engine.circuit_max_failures, engine.circuit_window);
// the recovery cooldown is fixed at the spec's default of 30s.
type CircuitBreakerConfig struct {
	MaxFailures int
	Window      time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{MaxFailures: 10, Window: 60 * time.Second}
}

// newCircuitBreaker builds the underlying concurrency.CircuitBreaker with
// the engine's submission-failure semantics (spec §4.E: "after K consecutive
// failures within window W... one successful broadcast closes it").
func newCircuitBreaker(cfg CircuitBreakerConfig) *concurrency.CircuitBreaker {
	return concurrency.NewCircuitBreaker(concurrency.CircuitBreakerConfig{
		Name:             "buy-engine-broadcast",
		FailureThreshold: cfg.MaxFailures,
		Window:           cfg.Window,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	})
}

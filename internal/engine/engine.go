package engine

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/shopspring/decimal"

	"solsniper/internal/analytics"
	"solsniper/internal/concurrency"
	"solsniper/internal/logger"
	"solsniper/internal/noncepool"
	"solsniper/internal/observability"
	"solsniper/internal/rpc"
	"solsniper/internal/txbuilder"
	"solsniper/internal/types"
)

// Config holds the engine.* tunables from spec §6.
type Config struct {
	RateCapPerMin        int
	MaxNotionalPerWindow decimal.Decimal
	SimulationPolicy     txbuilder.SimulationPolicy
	CircuitMaxFailures   int
	CircuitWindow        time.Duration
	AcquireTimeout       time.Duration
	PriorityFeeBase      uint64
}

func DefaultConfig() Config {
	return Config{
		RateCapPerMin:        10,
		MaxNotionalPerWindow: decimal.NewFromInt(1), // 1 SOL notional cap, spec §6
		SimulationPolicy:     txbuilder.AdaptiveSimulate,
		CircuitMaxFailures:   10,
		CircuitWindow:        60 * time.Second,
		AcquireTimeout:       50 * time.Millisecond,
		PriorityFeeBase:      5000,
	}
}

// Counters tallies the per-candidate outcomes the testable properties and
// scenarios (spec §8) assert on.
type Counters struct {
	GuardRejected        *concurrency.AtomicCounter
	NonceAcquireTimeout  *concurrency.AtomicCounter
	CircuitRejected      *concurrency.AtomicCounter
	RateLimited          *concurrency.AtomicCounter
	SimulationAborted    *concurrency.AtomicCounter
	BroadcastFailed      *concurrency.AtomicCounter
	BroadcastSucceeded   *concurrency.AtomicCounter
}

func newCounters() *Counters {
	return &Counters{
		GuardRejected:       concurrency.NewAtomicCounter(0),
		NonceAcquireTimeout: concurrency.NewAtomicCounter(0),
		CircuitRejected:     concurrency.NewAtomicCounter(0),
		RateLimited:         concurrency.NewAtomicCounter(0),
		SimulationAborted:   concurrency.NewAtomicCounter(0),
		BroadcastFailed:     concurrency.NewAtomicCounter(0),
		BroadcastSucceeded:  concurrency.NewAtomicCounter(0),
	}
}

// BuyEngine is task T3 (spec §4.E / §5): the single writer of
// BuyEngineState, draining high-priority candidates before low-priority
// ones and driving each through the ten-step buy pipeline.
type BuyEngine struct {
	cfg Config
	log *logger.Logger

	state *stateHolder

	pool    *noncepool.Pool
	builder txbuilder.Builder
	client  rpc.Client
	stats   *analytics.State
	valid   ValidatorPipeline

	rateLimiter *RateLimiter
	breaker     *concurrency.CircuitBreaker
	retry       *RetryPolicy
	fees        *PriorityFeeCalculator
	failRate    *concurrency.FailureRateTracker
	load        *loadSampler

	counters *Counters
}

func NewBuyEngine(
	cfg Config,
	pool *noncepool.Pool,
	builder txbuilder.Builder,
	client rpc.Client,
	stats *analytics.State,
	valid ValidatorPipeline,
	log *logger.Logger,
) *BuyEngine {
	if valid == nil {
		valid = AllowAll{}
	}
	failRate := concurrency.NewFailureRateTracker(cfg.CircuitWindow)
	return &BuyEngine{
		cfg:         cfg,
		log:         log,
		state:       newStateHolder(),
		pool:        pool,
		builder:     builder,
		client:      client,
		stats:       stats,
		valid:       valid,
		rateLimiter: NewRateLimiter(cfg.RateCapPerMin, cfg.MaxNotionalPerWindow, time.Minute),
		breaker:     newCircuitBreaker(CircuitBreakerConfig{MaxFailures: cfg.CircuitMaxFailures, Window: cfg.CircuitWindow}),
		retry:       NewRetryPolicy(),
		fees:        NewPriorityFeeCalculator(cfg.PriorityFeeBase, failRate),
		failRate:    failRate,
		load:        newLoadSampler(),
		counters:    newCounters(),
	}
}

func (e *BuyEngine) Snapshot() BuyEngineState { return e.state.snapshot() }
func (e *BuyEngine) Counters() *Counters      { return e.counters }

// ProcessForTest exposes the per-candidate pipeline directly, bypassing
// Run's channel plumbing, for scenario and property tests that need to
// drive one candidate through synchronously or race several goroutines
// against the guard CAS.
func (e *BuyEngine) ProcessForTest(ctx context.Context, candidate types.Candidate) {
	e.processCandidate(ctx, candidate)
}

// Run is task T3: drains high-priority candidates before low-priority ones
// (biased select, spec §5) until both channels close or ctx is canceled.
func (e *BuyEngine) Run(ctx context.Context, high, low <-chan types.Candidate) {
	go e.load.Run(ctx)

	for {
		if high == nil && low == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case c, ok := <-high:
			if !ok {
				high = nil
				continue
			}
			e.processCandidate(ctx, c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case c, ok := <-high:
			if !ok {
				high = nil
			} else {
				e.processCandidate(ctx, c)
			}
		case c, ok := <-low:
			if !ok {
				low = nil
			} else {
				e.processCandidate(ctx, c)
			}
		}
	}
}

// processCandidate runs the ten-step buy pipeline (spec §4.E). Every step
// is an early-exit point; no per-candidate failure is ever propagated to
// the caller.
func (e *BuyEngine) processCandidate(ctx context.Context, candidate types.Candidate) {
	// Step 1: mode gate.
	if e.state.snapshot().Mode != Sniffing {
		return
	}

	// Step 2: circuit-breaker check.
	if !e.breaker.CanExecute() {
		e.counters.CircuitRejected.Increment()
		return
	}

	// Step 3: rate limiter.
	notional := decimal.NewFromFloat(candidate.VolumeHint)
	if !e.rateLimiter.Allow(notional) {
		e.counters.RateLimited.Increment()
		return
	}

	// Step 3.5: validator pipeline hook (spec §9).
	if err := e.valid.Validate(candidate); err != nil {
		return
	}

	// Step 4: guard flag CAS.
	if !e.state.tryAcquireGuard() {
		e.counters.GuardRejected.Increment()
		return
	}
	guardHeld := true
	defer func() {
		if guardHeld {
			e.state.releaseGuard()
		}
	}()

	e.state.transition(func(s BuyEngineState) BuyEngineState {
		s.Mode = Preparing
		return s
	})

	// Step 5: surge confidence, non-blocking pool expansion request.
	confidence, ok := e.stats.SurgeConfidence()
	if ok && confidence >= 60 {
		go e.pool.Expand(2)
	}

	candAttrs := observability.CandidateAttrs(hex.EncodeToString(candidate.MintID[:]), candidate.SourceSlot, candidate.Priority.String(), candidate.CorrelationID)

	// Step 6: nonce lease acquisition.
	acquireCtx, endAcquireSpan := observability.StartRPCSpan(ctx, "noncepool.Acquire", candAttrs...)
	lease, err := e.pool.Acquire(acquireCtx, e.cfg.AcquireTimeout)
	endAcquireSpan(err)
	if err != nil {
		e.counters.NonceAcquireTimeout.Increment()
		e.breaker.RecordResult(err)
		e.state.releaseGuard()
		guardHeld = false
		e.resetToSniffing()
		return
	}

	fee := txbuilder.FeePolicy{
		PriorityFeeMicroLamports: e.fees.Compute(e.load.Factor(), SurgeBonus(confidence, ok)),
		MaxNotional:              e.cfg.MaxNotionalPerWindow,
	}

	// Step 7: build.
	start := time.Now()
	tx, err := e.builder.BuildBuy(ctx, candidate, lease, fee)
	if err != nil {
		lease.Release(noncepool.Failed)
		e.breaker.RecordResult(err)
		e.state.releaseGuard()
		guardHeld = false
		e.resetToSniffing()
		return
	}

	// Step 8: simulation policy.
	if e.cfg.SimulationPolicy != txbuilder.NeverSimulate {
		simCtx, endSimSpan := observability.StartRPCSpan(ctx, "rpc.Simulate", candAttrs...)
		outcome, simErr := e.client.Simulate(simCtx, tx)
		endSimSpan(simErr)
		if simErr == nil && outcome.Status == rpc.SimCriticalFailure && e.cfg.SimulationPolicy != txbuilder.AlwaysAllow {
			e.counters.SimulationAborted.Increment()
			lease.Release(noncepool.Failed)
			e.state.releaseGuard()
			guardHeld = false
			e.resetToSniffing()
			return
		}
		if simErr == nil && outcome.Status == rpc.SimAdvisoryFailure && e.log != nil {
			e.log.Warn("buy engine advisory simulation failure", "reason", outcome.Reason)
		}
	}

	// Step 9/10: broadcast. The retry policy's action selection and the
	// update after broadcast only train its Q-table keyed on this bucket;
	// neither the priority fee nor the broadcast reads it. Broadcast stays
	// fire-and-forget per spec §4.D — a single submission attempt, since a
	// nonce lease is consumed on its first use regardless of outcome.
	preBucket := BucketLatency(float64(time.Since(start).Milliseconds()))
	actionIdx, attempts, _ := e.retry.SelectAction(preBucket, 0)

	e.state.transition(func(s BuyEngineState) BuyEngineState {
		s.Mode = Executing
		return s
	})

	broadcastCtx, endBroadcastSpan := observability.StartRPCSpan(ctx, "rpc.Broadcast", candAttrs...)
	_, err = e.client.Broadcast(broadcastCtx, tx)
	endBroadcastSpan(err)
	elapsed := time.Since(start)
	bucket := BucketLatency(float64(elapsed.Milliseconds()))

	if err != nil {
		e.counters.BroadcastFailed.Increment()
		lease.Release(noncepool.Failed)
		e.breaker.RecordResult(err)
		e.failRate.RecordCall(false)
		e.retry.Update(preBucket, 0, actionIdx, Reward(false, float64(elapsed.Milliseconds()), attempts), bucket, 0)
		e.state.releaseGuard()
		guardHeld = false
		e.resetToSniffing()
		return
	}

	e.counters.BroadcastSucceeded.Increment()
	lease.Release(noncepool.Used)
	e.breaker.RecordResult(nil)
	e.failRate.RecordCall(true)
	e.retry.Update(preBucket, 0, actionIdx, Reward(true, float64(elapsed.Milliseconds()), attempts), bucket, 0)

	mint := candidate.MintID
	e.state.transition(func(s BuyEngineState) BuyEngineState {
		s.Mode = Passive
		s.ActiveToken = mint
		s.HasActiveToken = true
		s.HoldingsFraction = 1.0
		return s
	})
	e.state.releaseGuard()
	guardHeld = false
}

func (e *BuyEngine) resetToSniffing() {
	e.state.transition(func(s BuyEngineState) BuyEngineState {
		s.Mode = Sniffing
		return s
	})
}

// Sell drives the sell pipeline (spec §4.E): allowed only while Passive,
// never hits the rate limiter, and always uses the current nonce.
func (e *BuyEngine) Sell(ctx context.Context, fraction decimal.Decimal) error {
	snap := e.state.snapshot()
	if snap.Mode != Passive {
		return errNotPassive
	}

	e.state.transition(func(s BuyEngineState) BuyEngineState {
		s.Mode = Exiting
		return s
	})

	lease, err := e.pool.Acquire(ctx, e.cfg.AcquireTimeout)
	if err != nil {
		e.state.transition(func(s BuyEngineState) BuyEngineState {
			s.Mode = Passive
			return s
		})
		return err
	}

	fee := txbuilder.FeePolicy{PriorityFeeMicroLamports: e.cfg.PriorityFeeBase, MaxNotional: e.cfg.MaxNotionalPerWindow}
	tx, err := e.builder.BuildSell(ctx, snap.ActiveToken, fraction, lease, fee)
	if err != nil {
		lease.Release(noncepool.Failed)
		e.state.transition(func(s BuyEngineState) BuyEngineState {
			s.Mode = Passive
			return s
		})
		return err
	}

	if _, err := e.client.Broadcast(ctx, tx); err != nil {
		lease.Release(noncepool.Failed)
		e.state.transition(func(s BuyEngineState) BuyEngineState {
			s.Mode = Passive
			return s
		})
		return err
	}

	lease.Release(noncepool.Used)
	remaining := decimal.NewFromFloat(snap.HoldingsFraction).Sub(fraction)
	e.state.transition(func(s BuyEngineState) BuyEngineState {
		if remaining.LessThanOrEqual(decimal.Zero) {
			s.Mode = Sniffing
			s.HasActiveToken = false
			s.ActiveToken = types.ZeroMint
			s.HoldingsFraction = 0.0
		} else {
			s.Mode = Passive
			f, _ := remaining.Float64()
			s.HoldingsFraction = f
		}
		return s
	})
	return nil
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errNotPassive = sentinelErr("engine: sell requires mode = Passive")

// Package analytics implements the predictive-analytics engine (spec §4.A):
// a dual-EMA acceleration detector with a self-adjusting threshold, shared
// read/write between the sniffer (priority routing) and the buy engine
// (surge-triggered resource scaling).
package analytics

import (
	"sync"
	"time"

	"solsniper/internal/concurrency"
)

// Config holds the tunables from spec §6's analytics.* table.
type Config struct {
	AlphaShort     float64       // ema_short smoothing, default 0.2
	AlphaLong      float64       // ema_long smoothing, default 0.05
	TickInterval   time.Duration // default 200ms
	ThresholdInit  float64       // default 1.5
	ThresholdRate  float64       // max per-tick threshold step, default 0.1
	SurgeThreshold float64       // surge confidence trigger ratio, default 0.5
}

// DefaultConfig returns the defaults named in spec §6.
func DefaultConfig() Config {
	return Config{
		AlphaShort:     0.2,
		AlphaLong:      0.05,
		TickInterval:   200 * time.Millisecond,
		ThresholdInit:  1.5,
		ThresholdRate:  0.1,
		SurgeThreshold: 0.5,
	}
}

const (
	minThreshold = 0.5
	maxThreshold = 5.0
	kappa        = 0.1 // threshold-update gain, spec §4.A
	historyDepth = 5   // ticks per comparison window in surge_confidence
)

// State is the process-wide analytics singleton (spec §3 AnalyticsState).
// All hot-path fields are lock-free atomics; the periodic tick task is the
// sole writer of the EMAs and the threshold. Readers may observe a briefly
// stale EMA — that is an accepted tradeoff, not a bug.
type State struct {
	cfg Config

	volumeAccum *concurrency.AtomicFloat64
	sampleCount *concurrency.AtomicCounter

	emaShort    *concurrency.AtomicFloat64
	emaLong     *concurrency.AtomicFloat64
	threshold   *concurrency.AtomicFloat64
	lastUpdate  *concurrency.AtomicCounter // unix nanos, atomic for last_update_ts

	tickCount int // ticks since start; only the tick goroutine touches this

	// history of per-tick averages, used only by surge_confidence /
	// tick; guarded by mu since tick cadence (≥200ms) is far from hot.
	mu      sync.Mutex
	history []float64
}

// New creates the singleton AnalyticsState. It is created once at startup
// and never destroyed (spec §3).
func New(cfg Config) *State {
	if cfg.TickInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &State{
		cfg:         cfg,
		volumeAccum: concurrency.NewAtomicFloat64(0),
		sampleCount: concurrency.NewAtomicCounter(0),
		emaShort:    concurrency.NewAtomicFloat64(0),
		emaLong:     concurrency.NewAtomicFloat64(0),
		threshold:   concurrency.NewAtomicFloat64(cfg.ThresholdInit),
		lastUpdate:  concurrency.NewAtomicCounter(0),
		history:     make([]float64, 0, historyDepth*2),
	}
}

// Accumulate is the hot-path call from the sniffer (spec §4.A.1). It is
// wait-free and never fails.
func (s *State) Accumulate(volumeHint float64) {
	s.volumeAccum.Add(volumeHint)
	s.sampleCount.Increment()
}

// IsHighPriority is the hot-path classification call. Cold start (ema_long
// still zero) always returns false.
func (s *State) IsHighPriority(volumeHint float64) bool {
	emaLong := s.emaLong.Load()
	if emaLong == 0 {
		return false
	}
	return volumeHint > emaLong*s.threshold.Load()
}

// Threshold returns the current dynamic threshold (for observability/tests).
func (s *State) Threshold() float64 { return s.threshold.Load() }

// EMAs returns the current short and long EMA (for observability/tests).
func (s *State) EMAs() (short, long float64) { return s.emaShort.Load(), s.emaLong.Load() }

// Tick runs one analytics update cycle (spec §4.A.tick). It must be invoked
// by exactly one periodic background task (T2); it atomically swaps out
// the accumulator/sample_count, updates the EMAs, and every second tick
// adjusts the threshold.
func (s *State) Tick(now time.Time) {
	count := s.sampleCount.Load()
	accum := s.volumeAccum.Load()
	if count == 0 {
		s.tickCount++
		return
	}
	// Reset the accumulator for the next window. Swapping via Add(-accum)
	// rather than Store(0) tolerates any Accumulate racing in between.
	s.volumeAccum.Add(-accum)
	s.sampleCount.Add(-count)

	avg := accum / float64(count)

	emaShort := s.cfg.AlphaShort*avg + (1-s.cfg.AlphaShort)*s.emaShort.Load()
	emaLong := s.cfg.AlphaLong*avg + (1-s.cfg.AlphaLong)*s.emaLong.Load()
	s.emaShort.Store(emaShort)
	s.emaLong.Store(emaLong)
	s.lastUpdate.Store(now.UnixNano())

	s.tickCount++
	if s.tickCount%2 == 0 && emaLong > 0 {
		step := clamp((emaShort/emaLong-1)*kappa, -s.cfg.ThresholdRate, s.cfg.ThresholdRate)
		newThreshold := clamp(s.threshold.Load()+step, minThreshold, maxThreshold)
		s.threshold.Store(newThreshold)
	}

	const maxHistory = historyDepth * 4 // bounded; surge_confidence only needs the last 10
	s.mu.Lock()
	s.history = append(s.history, avg)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.mu.Unlock()
}

// SurgeConfidence returns a 0-100 confidence that near-term volume is
// accelerating: mean(last 5 ticks) vs mean(prior 5 ticks), or (0, false) on
// insufficient history (<10 ticks total, spec §4.A).
func (s *State) SurgeConfidence() (uint8, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) < historyDepth*2 {
		return 0, false
	}

	recent := s.history[len(s.history)-historyDepth:]
	prior := s.history[len(s.history)-2*historyDepth : len(s.history)-historyDepth]

	recentMean := mean(recent)
	priorMean := mean(prior)
	if priorMean == 0 {
		return 0, false
	}

	ratio := recentMean / priorMean
	if ratio-1 <= s.cfg.SurgeThreshold {
		return 0, false
	}

	confidence := ((ratio - 1) / s.cfg.SurgeThreshold) * 50
	if confidence > 100 {
		confidence = 100
	}
	return uint8(confidence), true
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

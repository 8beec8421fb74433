package engine

import (
	"context"
	"sync/atomic"
	"time"

	"solsniper/internal/concurrency"
)

// loadSampleInterval is how often the background congestion sampler reads
// real CPU/memory utilization to feed the priority-fee congestion factor
// (spec §4.E's congestion_factor term).
const loadSampleInterval = 2 * time.Second

// loadSampler periodically samples system load via
// concurrency.SampleSystemLoad and exposes the current congestion factor,
// so per-candidate fee computation never blocks on the sampling syscall.
type loadSampler struct {
	factorMilli int64 // atomic, congestion factor * 1000
}

func newLoadSampler() *loadSampler {
	s := &loadSampler{}
	s.store(1.0)
	return s
}

func (s *loadSampler) store(factor float64) {
	atomic.StoreInt64(&s.factorMilli, int64(factor*1000))
}

// Factor returns the most recently sampled congestion factor (1.0 = nominal
// load). Safe to call from any goroutine.
func (s *loadSampler) Factor() float64 {
	return float64(atomic.LoadInt64(&s.factorMilli)) / 1000.0
}

// Run samples system load every loadSampleInterval until ctx is canceled.
func (s *loadSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(loadSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cpuPct, memPct := concurrency.SampleSystemLoad()
			s.store(CongestionFactor(cpuPct, memPct))
		}
	}
}

package engine

import "solsniper/internal/concurrency"

// priorityFeeFloor and priorityFeeCeiling bound the adaptive fee (spec
// §4.E): fee = base · congestion_factor · surge_bonus · competition_factor.
const (
	priorityFeeFloor   = 1000
	priorityFeeCeiling = 100000
)

// PriorityFeeCalculator derives the adaptive priority fee from a congestion
// factor supplied by the caller, a surge bonus, and the submission failure
// rate (spec §4.E).
type PriorityFeeCalculator struct {
	base     uint64
	failRate *concurrency.FailureRateTracker
}

func NewPriorityFeeCalculator(base uint64, failRate *concurrency.FailureRateTracker) *PriorityFeeCalculator {
	return &PriorityFeeCalculator{base: base, failRate: failRate}
}

// Compute returns the clamped priority fee in fee units. congestionFactor
// is the multiplier from CongestionFactor (1.0 = no load; the engine passes
// its host CPU/memory load sample); surgeBonus
// comes from analytics.SurgeConfidence (1.0 at 0% confidence, up to 2.0 at
// 100%).
func (c *PriorityFeeCalculator) Compute(congestionFactor, surgeBonus float64) uint64 {
	competitionFactor := 1.0 + c.failRate.FailureRate() // more recent failures -> bid higher
	fee := float64(c.base) * congestionFactor * surgeBonus * competitionFactor

	clamped := uint64(fee)
	if clamped < priorityFeeFloor {
		clamped = priorityFeeFloor
	}
	if clamped > priorityFeeCeiling {
		clamped = priorityFeeCeiling
	}
	return clamped
}

// SurgeBonus maps a surge_confidence (0-100, ok) pair to the multiplier
// Compute expects.
func SurgeBonus(confidence uint8, ok bool) float64 {
	if !ok {
		return 1.0
	}
	return 1.0 + float64(confidence)/100.0
}

// CongestionFactor maps CPU/memory load percentages (as from
// concurrency.SampleSystemLoad) to the multiplier Compute expects.
func CongestionFactor(cpuPct, memPct float64) float64 {
	pressure := (cpuPct + memPct) / 200.0
	factor := 1.0 + pressure*2.0
	if factor > 3.0 {
		factor = 3.0
	}
	return factor
}

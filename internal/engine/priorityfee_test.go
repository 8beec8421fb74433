package engine_test

import (
	"testing"
	"time"

	"solsniper/internal/concurrency"
	"solsniper/internal/engine"
)

func TestPriorityFeeCalculator_ClampsToFloorAndCeiling(t *testing.T) {
	failRate := concurrency.NewFailureRateTracker(time.Minute)
	calc := engine.NewPriorityFeeCalculator(1000, failRate)

	if got := calc.Compute(0.0001, 1.0); got < 1000 {
		t.Fatalf("expected the fee to clamp to the floor 1000, got %d", got)
	}
	if got := calc.Compute(1000.0, 2.0); got > 100000 {
		t.Fatalf("expected the fee to clamp to the ceiling 100000, got %d", got)
	}
}

func TestPriorityFeeCalculator_HigherFailureRateBidsMore(t *testing.T) {
	lowFail := concurrency.NewFailureRateTracker(time.Minute)
	for i := 0; i < 10; i++ {
		lowFail.RecordCall(true)
	}
	highFail := concurrency.NewFailureRateTracker(time.Minute)
	for i := 0; i < 10; i++ {
		highFail.RecordCall(i < 8)
	}

	lowCalc := engine.NewPriorityFeeCalculator(5000, lowFail)
	highCalc := engine.NewPriorityFeeCalculator(5000, highFail)

	lowFee := lowCalc.Compute(1.0, 1.0)
	highFee := highCalc.Compute(1.0, 1.0)
	if highFee <= lowFee {
		t.Fatalf("expected a higher recent failure rate to bid a higher fee: low=%d high=%d", lowFee, highFee)
	}
}

func TestSurgeBonus(t *testing.T) {
	if got := engine.SurgeBonus(0, false); got != 1.0 {
		t.Fatalf("expected SurgeBonus(_, false) = 1.0, got %v", got)
	}
	if got := engine.SurgeBonus(0, true); got != 1.0 {
		t.Fatalf("expected SurgeBonus(0, true) = 1.0, got %v", got)
	}
	if got := engine.SurgeBonus(100, true); got != 2.0 {
		t.Fatalf("expected SurgeBonus(100, true) = 2.0, got %v", got)
	}
}

func TestCongestionFactor_ClampsAtThreeX(t *testing.T) {
	if got := engine.CongestionFactor(0, 0); got != 1.0 {
		t.Fatalf("expected CongestionFactor(0,0) = 1.0, got %v", got)
	}
	if got := engine.CongestionFactor(100, 100); got != 3.0 {
		t.Fatalf("expected CongestionFactor(100,100) to clamp to 3.0, got %v", got)
	}
}

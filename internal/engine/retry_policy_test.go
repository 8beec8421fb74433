package engine_test

import (
	"testing"

	"solsniper/internal/engine"
)

func TestBucketLatency_Thresholds(t *testing.T) {
	cases := []struct {
		ms   float64
		want engine.CongestionBucket
	}{
		{10, engine.CongestionLow},
		{49, engine.CongestionLow},
		{50, engine.CongestionMedium},
		{199, engine.CongestionMedium},
		{200, engine.CongestionHigh},
		{5000, engine.CongestionHigh},
	}
	for _, c := range cases {
		if got := engine.BucketLatency(c.ms); got != c.want {
			t.Errorf("BucketLatency(%v) = %v, want %v", c.ms, got, c.want)
		}
	}
}

func TestReward_SuccessBeatsFailure(t *testing.T) {
	success := engine.Reward(true, 50, 1)
	failure := engine.Reward(false, 50, 1)
	if success <= failure {
		t.Fatalf("expected a successful broadcast to score higher than a failed one: success=%v failure=%v", success, failure)
	}
}

func TestReward_FasterSuccessScoresHigher(t *testing.T) {
	fast := engine.Reward(true, 10, 1)
	slow := engine.Reward(true, 2000, 1)
	if fast <= slow {
		t.Fatalf("expected a faster successful broadcast to score higher: fast=%v slow=%v", fast, slow)
	}
}

func TestReward_MoreAttemptsPenalized(t *testing.T) {
	few := engine.Reward(true, 100, 1)
	many := engine.Reward(true, 100, 5)
	if few <= many {
		t.Fatalf("expected fewer attempts to score higher: few=%v many=%v", few, many)
	}
}

func TestRetryPolicy_SelectActionReturnsValidIndex(t *testing.T) {
	p := engine.NewRetryPolicy()
	for i := 0; i < 100; i++ {
		idx, attempts, jitter := p.SelectAction(engine.CongestionMedium, 0)
		if idx < 0 || idx > 4 {
			t.Fatalf("action index %d out of range [0,4]", idx)
		}
		if attempts < 1 || attempts > 5 {
			t.Fatalf("attempts %d out of spec range [1,5]", attempts)
		}
		if jitter < 0.1 || jitter > 1.0 {
			t.Fatalf("jitter_factor %v out of spec range [0.1,1.0]", jitter)
		}
	}
}

// TestRetryPolicy_LearnsTowardRewardedAction drives many rounds of
// select-reward-update for a single state and confirms the policy
// eventually favors the action that is always rewarded over one that is
// always punished, once epsilon has decayed toward its floor.
func TestRetryPolicy_LearnsTowardRewardedAction(t *testing.T) {
	p := engine.NewRetryPolicy()
	bucket := engine.CongestionLow

	for i := 0; i < 5000; i++ {
		idx, _, _ := p.SelectAction(bucket, 0)
		reward := -10.0
		if idx == 2 {
			reward = 10.0
		}
		p.Update(bucket, 0, idx, reward, bucket, 0)
	}

	counts := map[int]int{}
	for i := 0; i < 200; i++ {
		idx, _, _ := p.SelectAction(bucket, 0)
		counts[idx]++
	}
	if counts[2] < 150 {
		t.Fatalf("expected the consistently-rewarded action to dominate post-convergence selection, got counts=%v", counts)
	}
}

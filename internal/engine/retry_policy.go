package engine

import (
	"math/rand"
	"sync"
)

// CongestionBucket buckets observed RPC latency (and, secondarily, host
// load) into a small discrete state space for the Q-table (spec §4.E:
// "state = congestion bucket derived from observed RPC latency EMA").
type CongestionBucket int

const (
	CongestionLow CongestionBucket = iota
	CongestionMedium
	CongestionHigh
	numCongestionBuckets
)

// BucketLatency maps a latency EMA (milliseconds) to a congestion bucket.
func BucketLatency(latencyMS float64) CongestionBucket {
	switch {
	case latencyMS < 50:
		return CongestionLow
	case latencyMS < 200:
		return CongestionMedium
	default:
		return CongestionHigh
	}
}

// retryAction is one point in the (retry_attempts, jitter_factor) action
// space the policy chooses from (spec §4.E).
type retryAction struct {
	attempts     int
	jitterFactor float64
}

// actionSpace is the fixed, small discretization of attempts ∈ [1,5] and
// jitter_factor ∈ [0.1,1.0] the ε-greedy policy picks among.
var actionSpace = []retryAction{
	{attempts: 1, jitterFactor: 0.1},
	{attempts: 2, jitterFactor: 0.3},
	{attempts: 3, jitterFactor: 0.5},
	{attempts: 4, jitterFactor: 0.7},
	{attempts: 5, jitterFactor: 1.0},
}

const (
	retryLearningRate = 0.01
	retryDiscount     = 0.9

	epsilonStart = 0.2
	epsilonFloor = 0.05
	epsilonDecay = 0.999
)

type qKey struct {
	bucket       CongestionBucket
	attemptCount int
	action       int
}

// RetryPolicy is the in-memory, ephemeral Q-learning-shaped adaptive retry
// policy (spec §4.E / §6: "the Q-table... [is] ephemeral", no persistence).
// Grounded on the teacher's internal/grpo.Agent gradient-update-over-an-
// in-memory-map shape, generalized from a token-bias map to a genuine
// one-step Q-update over (state, action) pairs.
type RetryPolicy struct {
	mu      sync.Mutex
	q       map[qKey]float64
	epsilon float64
	rng     *rand.Rand
}

func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		q:       make(map[qKey]float64),
		epsilon: epsilonStart,
		rng:     rand.New(rand.NewSource(1)),
	}
}

// SelectAction runs ε-greedy selection over the fixed action space for the
// given state, decaying epsilon toward epsilonFloor after every call. It
// returns the chosen action's index (for Update) along with its attempts
// and jitter_factor.
func (p *RetryPolicy) SelectAction(bucket CongestionBucket, attemptCount int) (idx, attempts int, jitterFactor float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	defer func() {
		p.epsilon *= epsilonDecay
		if p.epsilon < epsilonFloor {
			p.epsilon = epsilonFloor
		}
	}()

	if p.rng.Float64() < p.epsilon {
		idx = p.rng.Intn(len(actionSpace))
		a := actionSpace[idx]
		return idx, a.attempts, a.jitterFactor
	}

	bestIdx, bestQ := 0, p.q[qKey{bucket, attemptCount, 0}]
	for i := 1; i < len(actionSpace); i++ {
		v := p.q[qKey{bucket, attemptCount, i}]
		if v > bestQ {
			bestQ, bestIdx = v, i
		}
	}
	a := actionSpace[bestIdx]
	return bestIdx, a.attempts, a.jitterFactor
}

// Reward computes the terminal reward for an outcome (spec §4.E): positive
// on success (base + speed bonus - attempt penalty), negative on failure.
func Reward(success bool, elapsedMS float64, attempts int) float64 {
	if success {
		const base = 10.0
		speedBonus := 20.0 / (1.0 + elapsedMS/100.0)
		attemptPenalty := 0.5 * float64(attempts)
		return base + speedBonus - attemptPenalty
	}
	return -5.0 - 0.5*float64(attempts)
}

// Update applies the one-step Q-learning update (learning rate 0.01,
// discount 0.9, spec §4.E) for the (state, action) pair that was actually
// taken, given the observed reward and the next state's best value.
func (p *RetryPolicy) Update(bucket CongestionBucket, attemptCount, actionIdx int, reward float64, nextBucket CongestionBucket, nextAttemptCount int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := qKey{bucket, attemptCount, actionIdx}
	current := p.q[key]

	bestNext := p.q[qKey{nextBucket, nextAttemptCount, 0}]
	for i := 1; i < len(actionSpace); i++ {
		v := p.q[qKey{nextBucket, nextAttemptCount, i}]
		if v > bestNext {
			bestNext = v
		}
	}

	p.q[key] = current + retryLearningRate*(reward+retryDiscount*bestNext-current)
}

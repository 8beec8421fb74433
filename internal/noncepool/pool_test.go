package noncepool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"solsniper/internal/noncepool"
	"solsniper/internal/types"
	"solsniper/internal/wallet"
)

func testWallet(t *testing.T) *wallet.LocalWallet {
	t.Helper()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	w, err := wallet.NewLocalWalletFromSeed(seed)
	if err != nil {
		t.Fatalf("NewLocalWalletFromSeed: %v", err)
	}
	return w
}

func testAddresses(n int) []types.Mint {
	addrs := make([]types.Mint, n)
	for i := range addrs {
		addrs[i][0] = byte(i + 1)
	}
	return addrs
}

func TestAcquire_ExclusiveUnderConcurrency(t *testing.T) {
	w := testWallet(t)
	pool := noncepool.NewForTesting(w, testAddresses(5), time.Minute, 1_000_000)

	seen := make(map[types.Mint]int)
	var mu sync.Mutex
	var wg sync.WaitGroup

	leases := make([]*noncepool.Lease, 0, 5)
	var leasesMu sync.Mutex

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			lease, err := pool.Acquire(ctx, time.Second)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			seen[lease.Address()]++
			mu.Unlock()
			leasesMu.Lock()
			leases = append(leases, lease)
			leasesMu.Unlock()
		}()
	}
	wg.Wait()

	for addr, count := range seen {
		if count != 1 {
			t.Errorf("address %v leased %d times, want exactly 1", addr, count)
		}
	}
	if len(seen) != 5 {
		t.Errorf("expected 5 distinct addresses leased, got %d", len(seen))
	}

	for _, l := range leases {
		l.Release(noncepool.Unused)
	}
}

func TestNoLeaks_AfterAcquireReleaseCycles(t *testing.T) {
	w := testWallet(t)
	pool := noncepool.NewForTesting(w, testAddresses(3), time.Minute, 1_000_000)

	initial := pool.StatsSnapshot().Idle

	// Releases return to the idle index only through the release worker
	// task, so it runs for the whole loop; three nonces cannot serve 100
	// acquires otherwise.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go pool.RunReleaseWorker(workerCtx)

	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		lease, err := pool.Acquire(ctx, 500*time.Millisecond)
		cancel()
		if err != nil {
			t.Fatalf("acquire cycle %d: %v", i, err)
		}
		lease.Release(noncepool.Unused)
	}

	// Releases are processed asynchronously by the worker task; give it
	// time to process the final release before counting.
	drainReleases(pool)

	if got := pool.StatsSnapshot().Idle; got != initial {
		t.Fatalf("expected idle count to return to %d, got %d", initial, got)
	}
}

func TestRelease_IsIdempotent(t *testing.T) {
	w := testWallet(t)
	pool := noncepool.NewForTesting(w, testAddresses(1), time.Minute, 1_000_000)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease, err := pool.Acquire(ctx, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	lease.Release(noncepool.Used)
	lease.Release(noncepool.Used) // must be a no-op, not a double-free/panic

	drainReleases(pool)

	if got := pool.StatsSnapshot().Idle; got != 1 {
		t.Fatalf("expected 1 idle nonce after idempotent release, got %d", got)
	}
}

func TestSequenceViolation_MovesToRefreshing(t *testing.T) {
	w := testWallet(t)
	addrs := testAddresses(1)
	pool := noncepool.NewForTesting(w, addrs, time.Minute, 1_000_000)

	if err := pool.ObserveSequence(addrs[0], 5); err != nil {
		t.Fatalf("first observation should succeed: %v", err)
	}
	if err := pool.ObserveSequence(addrs[0], 5); err != noncepool.ErrSequenceViolation {
		t.Fatalf("expected ErrSequenceViolation on non-monotone observation, got %v", err)
	}

	stats := pool.StatsSnapshot()
	if stats.Refreshing != 1 {
		t.Fatalf("expected account to move to Refreshing, stats=%+v", stats)
	}
}

func TestAcquire_TimesOutWhenExhausted(t *testing.T) {
	// Scenario S3: pool size 1, one lease held externally, a second
	// acquire with a 10ms timeout must fail with ErrPoolExhausted and
	// never broadcast.
	w := testWallet(t)
	addrs := testAddresses(1)
	pool := noncepool.NewForTesting(w, addrs, time.Minute, 1_000_000)

	ctx := context.Background()
	held, err := pool.Acquire(ctx, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer held.Release(noncepool.Unused)

	start := time.Now()
	_, err = pool.Acquire(ctx, 10*time.Millisecond)
	elapsed := time.Since(start)

	if err != noncepool.ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if elapsed > 200*time.Millisecond {
		t.Fatalf("acquire took too long to time out: %v", elapsed)
	}
}

// drainReleases runs the ticker-driven release worker in a goroutine for a
// 50ms window and returns after 20ms, enough for several 5ms ticks to
// process whatever is queued.
func drainReleases(pool *noncepool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	go pool.RunReleaseWorker(ctx)
	time.Sleep(20 * time.Millisecond)
}

// Package noncepool implements the durable-nonce lease pool (spec §4.C): a
// RAII-style lease pool with strict exclusivity, TTL reclamation, sequence
// invariants, and surge-driven elastic sizing. Grounded on the teacher's
// lock-free index pattern in internal/concurrency, repurposed here for
// nonce addresses instead of generic trading state.
package noncepool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"solsniper/internal/concurrency"
	"solsniper/internal/logger"
	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// AccountState is the NonceAccount lifecycle state from spec §3.
type AccountState int

const (
	Idle AccountState = iota
	Leased
	Refreshing
	Broken
)

func (s AccountState) String() string {
	switch s {
	case Leased:
		return "leased"
	case Refreshing:
		return "refreshing"
	case Broken:
		return "broken"
	default:
		return "idle"
	}
}

// NonceAccount represents one durable on-chain nonce.
type NonceAccount struct {
	Address       types.Mint
	Authority     types.Mint
	CurrentNonce  [32]byte
	LastValidSlot uint64

	mu            sync.Mutex
	state         AccountState
	seq           *concurrency.SequenceGenerator
	ownerTaskID   string
	acquiredAt    time.Time
	currentLease  *Lease
}

func (a *NonceAccount) snapshotState() AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

var (
	ErrPoolExhausted      = errors.New("noncepool: pool exhausted")
	ErrDegraded           = errors.New("noncepool: circuit breaker open, pool degraded")
	ErrLeaseRevoked       = errors.New("noncepool: lease revoked by watchdog TTL sweep")
	ErrSequenceViolation  = errors.New("noncepool: non-monotone nonce observation")
	ErrRPCUnavailable     = errors.New("noncepool: rpc collaborator unavailable")
)

// Config parameterizes the Pool per spec §6's pool.* table.
type Config struct {
	InitialSize   int
	MaxLeaseTTL   time.Duration
	RefreshPeriod time.Duration
	AcquireMaxRetries int
}

func DefaultConfig() Config {
	return Config{
		InitialSize:       10,
		MaxLeaseTTL:       60 * time.Second,
		RefreshPeriod:     30 * time.Second,
		AcquireMaxRetries: 5,
	}
}

// releaseMsg is what Drop/Release posts to the pool's lock-free release
// queue (spec §4.C invariant 3: no async work may happen synchronously in
// the release path).
type releaseMsg struct {
	address types.Mint
	outcome ReleaseOutcome
}

// ReleaseOutcome classifies how a lease ended.
type ReleaseOutcome int

const (
	Used ReleaseOutcome = iota
	Unused
	Failed
)

// Pool is the lease pool. It owns every NonceAccount; leases are owned
// exclusively by their holder until released.
type Pool struct {
	cfg Config

	client rpc.Client
	wallet rpc.Wallet
	slot   rpc.SlotSource
	log    *logger.Logger

	mu       sync.RWMutex
	accounts map[types.Mint]*NonceAccount

	idleIdx  *concurrency.LockFreeQueue[types.Mint]
	releaseQ *concurrency.LockFreeQueue[releaseMsg]

	waiters   chan struct{} // broadcast-ish: closed+replaced on every release
	waitersMu sync.Mutex

	cb *concurrency.CircuitBreaker

	closed chan struct{}
}

// New constructs a Pool and registers InitialSize nonce accounts with
// locally generated addresses, the wallet's pubkey as authority, and a
// last-valid slot of the RPC's current slot + 150. No on-chain
// account-creation transaction is sent. Production entry point;
// see NewForTesting for the deterministic test constructor from spec §9.
func New(ctx context.Context, cfg Config, client rpc.Client, wallet rpc.Wallet, log *logger.Logger) (*Pool, error) {
	p := newPool(cfg, client, wallet, rpcSlotSource{client}, log)
	if err := p.expandSync(ctx, cfg.InitialSize); err != nil {
		return nil, fmt.Errorf("noncepool: initial population: %w", err)
	}
	return p, nil
}

// NewForTesting pre-populates NonceAccounts without any RPC calls and wires
// a fixed synthetic slot source, per spec §9's "critical for determinism"
// test-mode constructor.
func NewForTesting(wallet rpc.Wallet, addresses []types.Mint, ttl time.Duration, lastValidSlot uint64) *Pool {
	cfg := DefaultConfig()
	cfg.MaxLeaseTTL = ttl
	cfg.InitialSize = len(addresses)

	p := newPool(cfg, nil, wallet, rpc.DefaultTestSlot, nil)
	for _, addr := range addresses {
		acct := &NonceAccount{
			Address:       addr,
			Authority:     wallet.Pubkey(),
			LastValidSlot: lastValidSlot,
			state:         Idle,
			seq:           concurrency.NewSequenceGenerator(0),
		}
		p.accounts[addr] = acct
		p.idleIdx.Enqueue(addr)
	}
	return p
}

func newPool(cfg Config, client rpc.Client, wallet rpc.Wallet, slot rpc.SlotSource, log *logger.Logger) *Pool {
	return &Pool{
		cfg:      cfg,
		client:   client,
		wallet:   wallet,
		slot:     slot,
		log:      log,
		accounts: make(map[types.Mint]*NonceAccount),
		idleIdx:  concurrency.NewLockFreeQueue[types.Mint](),
		releaseQ: concurrency.NewLockFreeQueue[releaseMsg](),
		waiters:  make(chan struct{}),
		cb: concurrency.NewCircuitBreaker(concurrency.CircuitBreakerConfig{
			Name:             "noncepool-rpc",
			FailureThreshold: 10,
			Window:           60 * time.Second,
			RecoveryTimeout:  30 * time.Second,
		}),
		closed: make(chan struct{}),
	}
}

type rpcSlotSource struct{ client rpc.Client }

func (s rpcSlotSource) CurrentSlot() uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	slot, err := s.client.GetSlot(ctx)
	if err != nil {
		return 0
	}
	return slot
}

// Acquire implements the sequencing protocol from spec §4.C: pop an Idle
// nonce from the lock-free index; on empty, await a release notification up
// to timeout, re-polling the index at exponential backoff+jitter intervals.
// After AcquireMaxRetries backoff delays it waits out the rest of the
// timeout in one step. No RPC call is made.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	if !p.cb.CanExecute() {
		return nil, ErrDegraded
	}

	deadline := time.Now().Add(timeout)
	backoff := concurrency.NewExponentialBackoff(concurrency.BackoffConfig{
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     timeout,
		Multiplier:   2.0,
		Jitter:       true,
		MaxRetries:   p.cfg.AcquireMaxRetries,
	})

	for {
		if addr, ok := p.idleIdx.Dequeue(); ok {
			lease, err := p.leaseAddress(addr)
			if err != nil {
				// Account vanished or was marked Broken between pop and
				// claim; treat as a transient miss and keep looking.
				continue
			}
			p.cb.RecordResult(nil)
			return lease, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.cb.RecordResult(ErrPoolExhausted)
			return nil, ErrPoolExhausted
		}

		wait := backoff.NextDelay()
		if wait == 0 || wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.waitSignal():
			// a release happened; loop and retry the dequeue immediately
		case <-time.After(wait):
			// poll again even without a signal, bounded by deadline
		}

		if time.Now().After(deadline) {
			p.cb.RecordResult(ErrPoolExhausted)
			return nil, ErrPoolExhausted
		}
	}
}

// waitSignal returns a channel that is closed the next time a release
// happens, implementing a cheap broadcast-to-all-waiters primitive.
func (p *Pool) waitSignal() <-chan struct{} {
	p.waitersMu.Lock()
	defer p.waitersMu.Unlock()
	return p.waiters
}

func (p *Pool) notifyWaiters() {
	p.waitersMu.Lock()
	old := p.waiters
	p.waiters = make(chan struct{})
	p.waitersMu.Unlock()
	close(old)
}

func (p *Pool) leaseAddress(addr types.Mint) (*Lease, error) {
	p.mu.RLock()
	acct, ok := p.accounts[addr]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("noncepool: unknown address in idle index")
	}

	acct.mu.Lock()
	if acct.state == Broken {
		acct.mu.Unlock()
		return nil, fmt.Errorf("noncepool: account broken")
	}
	acct.state = Leased
	acct.ownerTaskID = uuid.NewString()
	acct.acquiredAt = time.Now()
	lease := newLease(p, acct)
	acct.currentLease = lease
	acct.mu.Unlock()

	return lease, nil
}

// release is the pool-internal release pathway a Lease posts to; it never
// blocks and performs no I/O (spec §4.C invariant 3).
func (p *Pool) release(addr types.Mint, outcome ReleaseOutcome) {
	p.releaseQ.Enqueue(releaseMsg{address: addr, outcome: outcome})
}

// RunReleaseWorker is task T6: drains the release queue and performs the
// async reconciliation Drop cannot do synchronously.
func (p *Pool) RunReleaseWorker(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		case <-ticker.C:
			for {
				msg, ok := p.releaseQ.Dequeue()
				if !ok {
					break
				}
				p.processRelease(msg)
			}
		}
	}
}

func (p *Pool) processRelease(msg releaseMsg) {
	p.mu.RLock()
	acct, ok := p.accounts[msg.address]
	p.mu.RUnlock()
	if !ok {
		return
	}

	acct.mu.Lock()
	switch msg.outcome {
	case Failed:
		acct.state = Refreshing
	default:
		acct.state = Idle
	}
	acct.ownerTaskID = ""
	acct.currentLease = nil
	acct.mu.Unlock()

	if msg.outcome != Failed {
		p.idleIdx.Enqueue(msg.address)
	}
	p.notifyWaiters()
}

// ObserveSequence enforces invariant 7 (spec §8): a non-monotone nonce
// observation moves the account to Refreshing. Returns ErrSequenceViolation
// in that case so the caller (the txbuilder/engine) can log it.
func (p *Pool) ObserveSequence(addr types.Mint, observed int64) error {
	p.mu.RLock()
	acct, ok := p.accounts[addr]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("noncepool: unknown address")
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()
	if observed <= acct.seq.Current() {
		acct.state = Refreshing
		return ErrSequenceViolation
	}
	// Record the observed value itself, so the next observation must exceed it.
	acct.seq = concurrency.NewSequenceGenerator(observed)
	return nil
}

// RunRefresh is task T5: polls the RPC collaborator for each Idle nonce's
// current value every RefreshPeriod (spec §4.C refresh_all).
func (p *Pool) RunRefresh(ctx context.Context) {
	if p.client == nil {
		return // test pools never perform RPC refresh
	}
	ticker := time.NewTicker(p.cfg.RefreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		case <-ticker.C:
			p.refreshOnce(ctx)
		}
	}
}

func (p *Pool) refreshOnce(ctx context.Context) {
	p.mu.RLock()
	idleAddrs := make([]types.Mint, 0, len(p.accounts))
	for addr, acct := range p.accounts {
		if acct.snapshotState() == Idle || acct.snapshotState() == Refreshing {
			idleAddrs = append(idleAddrs, addr)
		}
	}
	p.mu.RUnlock()
	if len(idleAddrs) == 0 {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	results, err := p.client.GetMultipleAccounts(rctx, idleAddrs)
	if err != nil {
		if p.log != nil {
			p.log.Warn("noncepool refresh_all rpc call failed", "error", err.Error())
		}
		return
	}

	for i, addr := range idleAddrs {
		if i >= len(results) || results[i] == nil {
			continue
		}
		p.mu.RLock()
		acct, ok := p.accounts[addr]
		p.mu.RUnlock()
		if !ok {
			continue
		}
		acct.mu.Lock()
		if len(results[i].Data) >= 32 {
			copy(acct.CurrentNonce[:], results[i].Data[:32])
		}
		if acct.state == Refreshing {
			acct.state = Idle
			p.idleIdx.Enqueue(addr)
		}
		acct.mu.Unlock()
	}
}

// Expand registers n more nonce accounts in a background goroutine, the same
// way New does; it sends no on-chain account-creation transaction. The
// engine calls it non-blockingly on surge detection (spec §4.C expand).
func (p *Pool) Expand(n int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := p.expandSync(ctx, n); err != nil && p.log != nil {
			p.log.Error("noncepool expand failed", err, "requested", n)
		}
	}()
}

func (p *Pool) expandSync(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		addr := freshMint()
		acct := &NonceAccount{
			Address:       addr,
			Authority:     p.wallet.Pubkey(),
			LastValidSlot: p.currentSlot() + 150,
			state:         Idle,
			seq:           concurrency.NewSequenceGenerator(0),
		}
		p.mu.Lock()
		p.accounts[addr] = acct
		p.mu.Unlock()
		p.idleIdx.Enqueue(addr)
	}
	return nil
}

func (p *Pool) currentSlot() uint64 {
	if p.slot == nil {
		return 0
	}
	return p.slot.CurrentSlot()
}

func freshMint() types.Mint {
	var m types.Mint
	copy(m[:], uuid.New().NodeID())
	copy(m[6:], uuid.New().NodeID())
	return m
}

// Stats is a snapshot of account counts by state.
type Stats struct {
	Total      int
	Idle       int
	Leased     int
	Refreshing int
	Broken     int
}

func (p *Pool) StatsSnapshot() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s Stats
	s.Total = len(p.accounts)
	for _, acct := range p.accounts {
		switch acct.snapshotState() {
		case Leased:
			s.Leased++
		case Refreshing:
			s.Refreshing++
		case Broken:
			s.Broken++
		default:
			s.Idle++
		}
	}
	return s
}

// Close stops the background tasks. Outstanding leases are unaffected; they
// continue to release normally since release() only enqueues.
func (p *Pool) Close() {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
}

package noncepool

import (
	"runtime"
	"sync"
	"sync/atomic"

	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// Lease is the exclusive, RAII-managed handle to one NonceAccount (spec
// §3/§4.C). Go has no destructor, so the closest analog to "Drop releases
// automatically" is a runtime.SetFinalizer posting the same release message
// an explicit Release() would. The finalizer is a best-effort backstop, not
// the primary leak defense — the watchdog's TTL sweep is (see watchdog.go),
// since finalizers run at the GC's convenience, not promptly.
type Lease struct {
	pool *Pool
	acct *NonceAccount

	once     sync.Once
	revoked  int32 // set by the watchdog; checked by every method
	advanced int32 // AdvanceInstruction already called
}

var ErrLeaseAlreadyAdvanced = leaseErr("noncepool: advance_instruction called more than once on this lease")

type leaseErr string

func (e leaseErr) Error() string { return string(e) }

func newLease(pool *Pool, acct *NonceAccount) *Lease {
	l := &Lease{pool: pool, acct: acct}
	runtime.SetFinalizer(l, func(l *Lease) {
		l.releaseWith(Unused)
	})
	return l
}

// Address returns the leased NonceAccount's address.
func (l *Lease) Address() types.Mint {
	return l.acct.Address
}

// NonceValue returns the current durable-nonce value snapshot, or
// ErrLeaseRevoked if the watchdog has reclaimed this lease.
func (l *Lease) NonceValue() ([32]byte, error) {
	if atomic.LoadInt32(&l.revoked) != 0 {
		return [32]byte{}, ErrLeaseRevoked
	}
	l.acct.mu.Lock()
	defer l.acct.mu.Unlock()
	return l.acct.CurrentNonce, nil
}

// AdvanceInstruction returns the nonce-advance instruction that must be
// first in the produced instruction sequence (spec §4.D), guaranteeing the
// nonce is consumed even if the rest of the transaction fails on-chain.
func (l *Lease) AdvanceInstruction() (rpc.Instruction, error) {
	if atomic.LoadInt32(&l.revoked) != 0 {
		return rpc.Instruction{}, ErrLeaseRevoked
	}
	if !atomic.CompareAndSwapInt32(&l.advanced, 0, 1) {
		return rpc.Instruction{}, ErrLeaseAlreadyAdvanced
	}

	l.acct.mu.Lock()
	nonce := l.acct.CurrentNonce
	l.acct.mu.Unlock()

	return rpc.Instruction{
		ProgramID: systemProgramID,
		Data:      nonce[:],
	}, nil
}

var systemProgramID types.ProgramID // zero value stands in for the well-known system program

// Release consumes the lease, posting (address, outcome) to the pool's
// release queue. Idempotent: an explicit Release followed by the
// finalizer's call, or two explicit Releases, is a no-op after the first
// (spec §8 invariant 6).
func (l *Lease) Release(outcome ReleaseOutcome) {
	l.releaseWith(outcome)
}

func (l *Lease) releaseWith(outcome ReleaseOutcome) {
	l.once.Do(func() {
		runtime.SetFinalizer(l, nil)
		l.pool.release(l.acct.Address, outcome)
	})
}

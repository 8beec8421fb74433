// Package engine implements the Buy Engine (spec §4.E): the single-writer
// state machine that consumes Candidates, enforces at-most-one active
// position, and orchestrates nonce acquisition, transaction building,
// simulation, and broadcast. Grounded on the teacher's
// internal/services/trading_service.go task/lock-free-collaborator shape,
// generalized from a DB-backed trade ledger to an ephemeral, single-mint
// position.
package engine

import (
	"sync/atomic"
	"unsafe"

	"solsniper/internal/types"
)

// Mode is the coarse state machine the engine drives candidates through
// (spec §4.E). It replaces the sniffer's separate per-pipeline priority
// enum and the engine's own user-facing one with a single shared
// types.PriorityLevel for priority, and keeps Mode purely about position
// lifecycle.
type Mode int

const (
	Sniffing Mode = iota
	Preparing
	Executing
	Passive
	Exiting
)

func (m Mode) String() string {
	switch m {
	case Preparing:
		return "preparing"
	case Executing:
		return "executing"
	case Passive:
		return "passive"
	case Exiting:
		return "exiting"
	default:
		return "sniffing"
	}
}

// BuyEngineState is the read-only snapshot observers consult (spec §3). It
// is produced by a versioned atomic pointer swap, never by copying fields
// out of the live engine under a lock.
type BuyEngineState struct {
	Mode             Mode
	ActiveToken      types.Mint
	HasActiveToken   bool
	HoldingsFraction float64
	Version          uint64
}

// stateHolder is the single-writer (T3) mutable engine state. snapshot()
// reads are lock-free: callers load the *BuyEngineState pointer atomically.
type stateHolder struct {
	current unsafe.Pointer // *BuyEngineState

	pendingBuyFlag int32 // atomic CAS guard, spec §4.E step 4
}

func newStateHolder() *stateHolder {
	h := &stateHolder{}
	initial := &BuyEngineState{Mode: Sniffing}
	atomic.StorePointer(&h.current, unsafe.Pointer(initial))
	return h
}

func (h *stateHolder) snapshot() BuyEngineState {
	p := (*BuyEngineState)(atomic.LoadPointer(&h.current))
	return *p
}

// transition publishes a new state, incrementing Version. Only the engine's
// own goroutine (T3) calls this — the single-writer rule from spec §5.
func (h *stateHolder) transition(mutate func(BuyEngineState) BuyEngineState) BuyEngineState {
	prev := h.snapshot()
	next := mutate(prev)
	next.Version = prev.Version + 1
	atomic.StorePointer(&h.current, unsafe.Pointer(&next))
	return next
}

// tryAcquireGuard implements the atomic CAS pending_buy_flag guard (spec
// §4.E step 4): only one concurrent candidate may proceed past this point.
func (h *stateHolder) tryAcquireGuard() bool {
	return atomic.CompareAndSwapInt32(&h.pendingBuyFlag, 0, 1)
}

func (h *stateHolder) releaseGuard() {
	atomic.StoreInt32(&h.pendingBuyFlag, 0)
}

// Package rpc defines the external collaborator contracts the core depends
// on: the chain RPC client, the wallet, and the upstream streaming
// subscription, plus one reference Client body (HTTPClient) and slot
// sources. Living in their own package (rather than
// inside noncepool or engine) lets sniffer, noncepool, txbuilder, and engine
// all depend on the contracts without depending on each other.
package rpc

import (
	"context"
	"time"

	"solsniper/internal/types"
)

// AccountData is the opaque on-chain account payload returned by
// GetMultipleAccounts.
type AccountData struct {
	Owner types.ProgramID
	Data  []byte
}

// Signature is a transaction signature (opaque to the core).
type Signature [64]byte

// SimStatus is the outcome classification from §4.D/§7.
type SimStatus int

const (
	SimSuccess SimStatus = iota
	SimAdvisoryFailure
	SimCriticalFailure
)

// SimOutcome is the result of a pre-broadcast simulation.
type SimOutcome struct {
	Status SimStatus
	Reason string
}

// Client is the stateless, per-call RPC collaborator (spec §6). Every method
// takes its deadline via ctx. The nonce pool's refresh and slot reads set a
// 2s per-call timeout; the engine's Simulate and Broadcast calls set none of
// their own and are bounded only by the caller's ctx and, for HTTPClient,
// by the HTTP client's timeout.
type Client interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetMultipleAccounts(ctx context.Context, keys []types.Mint) ([]*AccountData, error)
	Simulate(ctx context.Context, tx SignedTx) (SimOutcome, error)
	Broadcast(ctx context.Context, tx SignedTx) (Signature, error)
}

// SignedTx is the opaque output of the transaction builder collaborator.
type SignedTx struct {
	Bytes     []byte
	Signature Signature
}

// Instruction is the opaque nonce-advance instruction a Lease produces
// (spec §4.D). It lives here, rather than in internal/noncepool, so the
// transaction builder contract can reference it without importing
// noncepool directly — txbuilder only needs a structural Lease capability,
// not the pool implementation.
type Instruction struct {
	ProgramID types.ProgramID
	Data      []byte
}

// Wallet is the signing collaborator (spec §6). Key material it holds must
// never be logged and must be held in a zeroizing container; see
// internal/wallet.
type Wallet interface {
	Sign(message []byte) (Signature, error)
	Pubkey() types.Mint
}

// Frame is one (slot, raw_tx_bytes) item delivered by the streaming
// collaborator.
type Frame struct {
	Slot  uint64
	Bytes types.TxFrame
}

// Subscriber is the upstream streaming collaborator contract (spec §6): a
// pluggable subscription adapter over either a gRPC-like push stream or a
// WebSocket. Stream delivers frames on the returned channel until ctx is
// canceled or the subscription is closed; the channel is closed on exit.
type Subscriber interface {
	Stream(ctx context.Context) (<-chan Frame, error)
	Close() error
}

// SlotSource supplies current_slot(). Production code adapts Client.GetSlot
// to it (ClientSlotSource, and the nonce pool's private equivalent); tests
// use FixedSlot, the test-only branch from spec §9, which returns a fixed
// slot so test nonces with last_valid_slot = 1_000_000 remain valid
// deterministically.
type SlotSource interface {
	CurrentSlot() uint64
}

// FixedSlot implements SlotSource with a constant, used by
// noncepool.NewForTesting per spec §9's Design Notes.
type FixedSlot uint64

func (f FixedSlot) CurrentSlot() uint64 { return uint64(f) }

// DefaultTestSlot is the literal the source repo's test branch returns
// (500_000), which satisfies test_slot < test_nonce.last_valid_slot against
// the default test last_valid_slot of 1_000_000.
const DefaultTestSlot FixedSlot = 500_000

// Timeouts collects the default per-call RPC timeouts from spec §5.
type Timeouts struct {
	Simulate  time.Duration
	Broadcast time.Duration
	Refresh   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Simulate:  200 * time.Millisecond,
		Broadcast: 500 * time.Millisecond,
		Refresh:   2 * time.Second,
	}
}

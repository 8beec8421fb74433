// Package txbuilder defines the Transaction Builder external contract
// (spec §4.D) and ships one concrete, swappable implementation grounded on
// the teacher's Jupiter DEX client. E treats the builder as an opaque
// collaborator; DEX instruction encoding itself is explicitly out of scope
// (spec.md §1 non-goals).
package txbuilder

import (
	"context"

	"github.com/shopspring/decimal"

	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// Lease is the structural capability a Builder needs from a nonce lease. It
// is satisfied by *noncepool.Lease without txbuilder importing noncepool —
// only internal/rpc's shared Instruction type ties them together, so
// engine can depend on both packages without either depending on the other.
type Lease interface {
	Address() types.Mint
	AdvanceInstruction() (rpc.Instruction, error)
}

// SimulationPolicy selects how aggressively E simulates before broadcast
// (spec §4.E step 8).
type SimulationPolicy int

const (
	AdaptiveSimulate SimulationPolicy = iota
	AlwaysSimulate
	NeverSimulate
	AlwaysAllow
)

// FeePolicy carries the adaptive priority fee the engine computed for this
// attempt (spec §4.E "Adaptive priority fee").
type FeePolicy struct {
	PriorityFeeMicroLamports uint64
	MaxNotional              decimal.Decimal
}

// Builder is the external Transaction Builder contract (spec §4.D). It
// must be pure given its inputs; deterministic fee selection is fine, but
// it must never consult a time source itself.
type Builder interface {
	BuildBuy(ctx context.Context, candidate types.Candidate, lease Lease, fee FeePolicy) (rpc.SignedTx, error)
	BuildSell(ctx context.Context, mint types.Mint, fraction decimal.Decimal, lease Lease, fee FeePolicy) (rpc.SignedTx, error)
}

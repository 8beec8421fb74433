// Package types holds the data shared across the sniffer and buy-engine
// pipelines: transaction frames, candidates, and the priority enum both
// sides classify by. Keeping one PriorityLevel here instead of a
// pipeline-local copy and an engine-local copy avoids the duplicated-type
// drift the teacher's codebase accumulated over time.
package types

import (
	"errors"
	"time"
)

// PriorityLevel is the coarse routing decision the sniffer makes and the
// engine later re-reads when draining its two candidate channels.
type PriorityLevel int

const (
	Low PriorityLevel = iota
	High
)

func (p PriorityLevel) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// Mint and ProgramID are 32-byte account identifiers, matching the
// account-key width of the account-based chain this bot targets.
type Mint [32]byte
type ProgramID [32]byte

var ZeroMint Mint

func (m Mint) IsZero() bool { return m == ZeroMint }

// TxFrame is a zero-copy view over a raw transaction byte frame owned by
// the ingestion task. Copies of TxFrame share the underlying buffer. The
// refs counter is set to 1 at construction and nothing changes it; there is
// no release method, and the buffer is freed by the garbage collector once
// no copy refers to it.
type TxFrame struct {
	bytes []byte
	refs  *int32
}

const (
	MinFrameBytes = 128
	MaxFrameBytes = 8192
)

var ErrFrameSizeOutOfBounds = errors.New("txframe: size outside [128, 8192] bytes")

// NewTxFrame wraps a byte slice without copying it. The caller must not
// mutate buf after this call; ownership passes to the returned frame.
func NewTxFrame(buf []byte) (TxFrame, error) {
	if len(buf) < MinFrameBytes || len(buf) > MaxFrameBytes {
		return TxFrame{}, ErrFrameSizeOutOfBounds
	}
	refs := int32(1)
	return TxFrame{bytes: buf, refs: &refs}, nil
}

// Bytes returns the underlying slice. Callers must treat it as read-only;
// no stage in the sniffer pipeline needs to mutate a frame.
func (f TxFrame) Bytes() []byte { return f.bytes }

func (f TxFrame) Len() int { return len(f.bytes) }

// Slice returns a zero-copy sub-view; it panics on out-of-range bounds,
// matching the behavior of the builtin slice expression it wraps.
func (f TxFrame) Slice(lo, hi int) []byte { return f.bytes[lo:hi] }

// Candidate is what the sniffer hands to the buy engine: a transaction that
// survived prefilter, extraction, and sanity checks.
type Candidate struct {
	MintID      Mint
	ProgramID   ProgramID
	SourceSlot  uint64
	Priority    PriorityLevel
	VolumeHint  float64
	ObservedAt  time.Time
	CorrelationID string
}

var (
	ErrZeroMint        = errors.New("candidate: mint_id is zero")
	ErrProgramNotAllow = errors.New("candidate: program_id not in interest set")
	ErrStaleSlot       = errors.New("candidate: source_slot too far behind current slot")
)

// MaxSlotLag is the maximum number of slots a candidate's source_slot may
// trail the current slot by before it is considered stale (§3 invariant).
const MaxSlotLag = 50

// Validate enforces the Candidate invariants from spec §3. allowedPrograms
// is the configured interest-program whitelist; currentSlot is the most
// recently observed slot.
func (c Candidate) Validate(allowedPrograms map[ProgramID]struct{}, currentSlot uint64) error {
	if c.MintID.IsZero() {
		return ErrZeroMint
	}
	if _, ok := allowedPrograms[c.ProgramID]; !ok {
		return ErrProgramNotAllow
	}
	if currentSlot > c.SourceSlot && currentSlot-c.SourceSlot > MaxSlotLag {
		return ErrStaleSlot
	}
	return nil
}

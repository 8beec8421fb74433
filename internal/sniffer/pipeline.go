package sniffer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"solsniper/internal/analytics"
	"solsniper/internal/concurrency"
	"solsniper/internal/logger"
	"solsniper/internal/oracle"
	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

// nominalAmountOffset is the well-known instruction-data offset the volume
// estimation stage reads a little-endian u64 nominal token amount from
// (spec §4.B.6). Like the hot-mode mint offsets, this is a wire-format
// assumption, not a protocol guarantee.
const nominalAmountOffset = 96

// DropCounters tallies per-stage rejections (spec §4.B failure semantics).
// All fields are independent atomic counters so stages never contend with
// each other.
type DropCounters struct {
	SizeGate        *concurrency.AtomicCounter
	VoteTransaction *concurrency.AtomicCounter
	ProgramMismatch *concurrency.AtomicCounter
	MintMalformed   *concurrency.AtomicCounter
	MintInvalid     *concurrency.AtomicCounter
	MintNested      *concurrency.AtomicCounter
	SecuritySanity  *concurrency.AtomicCounter
	Backpressure    *concurrency.AtomicCounter
}

func newDropCounters() *DropCounters {
	return &DropCounters{
		SizeGate:        concurrency.NewAtomicCounter(0),
		VoteTransaction: concurrency.NewAtomicCounter(0),
		ProgramMismatch: concurrency.NewAtomicCounter(0),
		MintMalformed:   concurrency.NewAtomicCounter(0),
		MintInvalid:     concurrency.NewAtomicCounter(0),
		MintNested:      concurrency.NewAtomicCounter(0),
		SecuritySanity:  concurrency.NewAtomicCounter(0),
		Backpressure:    concurrency.NewAtomicCounter(0),
	}
}

// PipelineConfig holds the per-pipeline tunables from spec §6's
// prefilter.* and interest_programs table entries.
type PipelineConfig struct {
	DexProgram      types.ProgramID
	SPLTokenProgram types.ProgramID
	SafeOffsets     bool

	HighPriorityCap int // bounded channel capacity, spec §4.B.7
	LowPriorityCap  int
}

func DefaultPipelineConfig(dex, splToken types.ProgramID) PipelineConfig {
	return PipelineConfig{
		DexProgram:      dex,
		SPLTokenProgram: splToken,
		SafeOffsets:     true,
		HighPriorityCap: 1024,
		LowPriorityCap:  4096,
	}
}

// Pipeline runs the seven sniffer sub-stages (spec §4.B) over frames handed
// to it by an Ingress task, emitting Candidates on two bounded, non-blocking
// channels. It never blocks the calling (ingress) goroutine: a full
// downstream channel is a drop, not a wait.
type Pipeline struct {
	cfg   PipelineConfig
	stats *analytics.State
	cache *oracle.Cache
	slots rpc.SlotSource
	log   *logger.Logger

	allowedPrograms map[types.ProgramID]struct{}

	high chan types.Candidate
	low  chan types.Candidate

	drops *DropCounters
}

func NewPipeline(cfg PipelineConfig, stats *analytics.State, cache *oracle.Cache, slots rpc.SlotSource, log *logger.Logger) *Pipeline {
	allowed := map[types.ProgramID]struct{}{
		cfg.DexProgram:      {},
		cfg.SPLTokenProgram: {},
	}
	return &Pipeline{
		cfg:             cfg,
		stats:           stats,
		cache:           cache,
		slots:           slots,
		log:             log,
		allowedPrograms: allowed,
		high:            make(chan types.Candidate, cfg.HighPriorityCap),
		low:             make(chan types.Candidate, cfg.LowPriorityCap),
		drops:           newDropCounters(),
	}
}

// High returns the bounded high-priority candidate channel (spec §5 T3
// drains this first).
func (p *Pipeline) High() <-chan types.Candidate { return p.high }

// Low returns the bounded low-priority candidate channel.
func (p *Pipeline) Low() <-chan types.Candidate { return p.low }

func (p *Pipeline) Drops() *DropCounters { return p.drops }

// Handle is the entry point Ingress.Run calls for every frame (spec §4.B
// stages 2-7). It never blocks: every rejection is a counter increment and
// an early return.
func (p *Pipeline) Handle(frame rpc.Frame) {
	data := frame.Bytes.Bytes()

	if !sizeGate(len(data)) {
		p.drops.SizeGate.Increment()
		return
	}
	if isVoteTransaction(data) {
		p.drops.VoteTransaction.Increment()
		return
	}
	if !matchesInterestPrograms(data, p.cfg.DexProgram, p.cfg.SPLTokenProgram) {
		p.drops.ProgramMismatch.Increment()
		return
	}

	mint, err := ExtractMint(data, p.cfg.SafeOffsets)
	if err != nil {
		p.countExtractFailure(err)
		return
	}

	candidate := types.Candidate{
		MintID:        mint,
		ProgramID:     p.cfg.DexProgram,
		SourceSlot:    frame.Slot,
		ObservedAt:    time.Now(),
		CorrelationID: uuid.New().String(),
	}

	currentSlot := frame.Slot
	if p.slots != nil {
		currentSlot = p.slots.CurrentSlot()
	}
	if err := candidate.Validate(p.allowedPrograms, currentSlot); err != nil {
		p.drops.SecuritySanity.Increment()
		return
	}

	candidate.VolumeHint = p.estimateVolume(mint, data)

	p.stats.Accumulate(candidate.VolumeHint)
	candidate.Priority = types.Low
	if p.stats.IsHighPriority(candidate.VolumeHint) {
		candidate.Priority = types.High
	}

	p.emit(candidate)
}

func (p *Pipeline) countExtractFailure(err error) {
	mintErr, ok := err.(*MintExtractError)
	if !ok {
		p.drops.MintMalformed.Increment()
		return
	}
	switch mintErr.Kind {
	case InvalidMint:
		p.drops.MintInvalid.Increment()
	case NestedUnsupported:
		p.drops.MintNested.Increment()
	default:
		p.drops.MintMalformed.Increment()
	}
}

// estimateVolume reads a little-endian u64 nominal amount at the well-known
// offset and converts it via the price oracle. Any failure — short frame,
// or a cache miss inside Cache.EstimateVolume — yields a zero volume_hint
// per spec §4.B.6, never an error.
func (p *Pipeline) estimateVolume(mint types.Mint, data []byte) float64 {
	if len(data) < nominalAmountOffset+8 {
		return 0
	}
	var nominal uint64
	for i := 0; i < 8; i++ {
		nominal |= uint64(data[nominalAmountOffset+i]) << (8 * i)
	}
	if nominal == 0 || p.cache == nil {
		return 0
	}
	return p.cache.EstimateVolume(mint, decimal.NewFromInt(int64(nominal)))
}

// emit performs the non-blocking try_send handoff (spec §4.B.7): a
// high-priority candidate tries the high channel first, then low; a
// low-priority one tries low. A candidate that finds no room is dropped
// with a counter. It never blocks the caller.
func (p *Pipeline) emit(candidate types.Candidate) {
	if candidate.Priority == types.High {
		select {
		case p.high <- candidate:
			return
		default:
		}
	}
	select {
	case p.low <- candidate:
		return
	default:
	}
	p.drops.Backpressure.Increment()
}

package sniffer

import (
	"encoding/binary"
	"math/rand"
	"testing"
	"time"

	"solsniper/internal/analytics"
	"solsniper/internal/logger"
	"solsniper/internal/rpc"
	"solsniper/internal/types"
)

func testProgramIDs() (dex, spl types.ProgramID) {
	dex[0] = 0xAA
	spl[0] = 0xBB
	return
}

func frameWithPrograms(dex, spl types.ProgramID, mint types.Mint, slot uint64) rpc.Frame {
	buf := make([]byte, 600)
	_, _ = rand.Read(buf)
	buf[voteDiscriminatorOffset] = 0x01 // not a vote
	copy(buf[150:182], dex[:])
	copy(buf[250:282], spl[:])
	copy(buf[hotModeOffsetLo:hotModeOffsetHi], mint[:])
	binary.LittleEndian.PutUint64(buf[nominalAmountOffset:nominalAmountOffset+8], 1_000_000)
	tx, err := types.NewTxFrame(buf)
	if err != nil {
		panic(err)
	}
	return rpc.Frame{Slot: slot, Bytes: tx}
}

func newTestPipeline() *Pipeline {
	dex, spl := testProgramIDs()
	cfg := DefaultPipelineConfig(dex, spl)
	cfg.HighPriorityCap = 4
	cfg.LowPriorityCap = 4
	stats := analytics.New(analytics.DefaultConfig())
	return NewPipeline(cfg, stats, nil, rpc.DefaultTestSlot, logger.NewLogger("test", nil))
}

// TestPrefilter_RequiresBothPrograms covers invariant 1: a frame missing
// either the DEX or the SPL token program never survives the prefilter.
func TestPrefilter_RequiresBothPrograms(t *testing.T) {
	dex, spl := testProgramIDs()
	var mint types.Mint
	mint[0] = 0x01

	onlyDex := frameWithPrograms(dex, types.ProgramID{}, mint, 500_000)
	onlySpl := frameWithPrograms(types.ProgramID{}, spl, mint, 500_000)
	both := frameWithPrograms(dex, spl, mint, 500_000)

	if matchesInterestPrograms(onlyDex.Bytes.Bytes(), dex, spl) {
		t.Fatalf("frame missing spl program should not match")
	}
	if matchesInterestPrograms(onlySpl.Bytes.Bytes(), dex, spl) {
		t.Fatalf("frame missing dex program should not match")
	}
	if !matchesInterestPrograms(both.Bytes.Bytes(), dex, spl) {
		t.Fatalf("frame with both programs should match")
	}
}

// TestExtractMint_HotAndSafeModes covers invariant 2: both extraction modes
// round-trip a planted mint, and safe mode additionally handles the
// nested-instruction envelope hot mode cannot.
func TestExtractMint_HotAndSafeModes(t *testing.T) {
	var want types.Mint
	want[0] = 0x42

	hotBuf := make([]byte, 200)
	copy(hotBuf[hotModeOffsetLo:hotModeOffsetHi], want[:])
	got, err := ExtractMint(hotBuf, false)
	if err != nil {
		t.Fatalf("hot mode: unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("hot mode: got %x want %x", got, want)
	}

	// Force hot mode to fail (bytes [64,96) are all zero), safe_offsets
	// enabled falls back.
	safeBuf := make([]byte, 2+32*3)
	safeBuf[0] = 3 // account count
	copy(safeBuf[1+32:1+64], want[:])
	got, err = ExtractMint(safeBuf, true)
	if err != nil {
		t.Fatalf("safe mode fallback: unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("safe mode fallback: got %x want %x", got, want)
	}

	// safe_offsets disabled: hot-mode failure is not retried.
	if _, err := ExtractMint(safeBuf, false); err == nil {
		t.Fatalf("expected hot-mode failure without safe_offsets fallback")
	}

	// Nested-instruction envelope: one sentinel byte before the layout.
	nestedBuf := make([]byte, 3+32*3)
	nestedBuf[0] = safeModeNestedSentinel
	nestedBuf[1] = 3
	copy(nestedBuf[2+32:2+64], want[:])
	got, err = extractMintSafe(nestedBuf)
	if err != nil {
		t.Fatalf("safe mode nested: unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("safe mode nested: got %x want %x", got, want)
	}
}

// TestPipeline_RejectsVotesAndRandom covers invariant 3 and scenario S5:
// 1000 frames (500 vote transactions, 400 random non-matching, 100 matching)
// should reject at least 90% and the prefilter/mint stages must never
// produce output for the vote or random frames.
func TestPipeline_RejectsVotesAndRandom(t *testing.T) {
	p := newTestPipeline()
	dex, spl := testProgramIDs()

	for i := 0; i < 500; i++ {
		buf := make([]byte, 600)
		_, _ = rand.Read(buf)
		buf[voteDiscriminatorOffset] = voteDiscriminatorByte
		tx, err := types.NewTxFrame(buf)
		if err != nil {
			t.Fatalf("vote frame: %v", err)
		}
		p.Handle(rpc.Frame{Slot: 500_000, Bytes: tx})
	}
	for i := 0; i < 400; i++ {
		buf := make([]byte, 600)
		_, _ = rand.Read(buf)
		buf[voteDiscriminatorOffset] = 0x01
		tx, err := types.NewTxFrame(buf)
		if err != nil {
			t.Fatalf("random frame: %v", err)
		}
		p.Handle(rpc.Frame{Slot: 500_000, Bytes: tx})
	}
	var mint types.Mint
	mint[0] = 0x07
	for i := 0; i < 100; i++ {
		p.Handle(frameWithPrograms(dex, spl, mint, 500_000))
	}

	accepted := len(p.high) + len(p.low)
	if accepted > 100 {
		t.Fatalf("accepted %d candidates, expected at most the 100 matching frames", accepted)
	}
	rejectionRate := 1 - float64(accepted)/1000.0
	if rejectionRate < 0.9 {
		t.Fatalf("rejection rate %.3f below required 0.9", rejectionRate)
	}
}

// TestPipeline_BackpressureNeverBlocks covers invariant 11: once both
// channels are saturated, Handle still returns promptly and increments
// drop_due_to_backpressure instead of blocking the caller.
func TestPipeline_BackpressureNeverBlocks(t *testing.T) {
	p := newTestPipeline()
	dex, spl := testProgramIDs()

	// Force every candidate into the low-priority channel (cold-start
	// analytics state always classifies as low) and fill it past capacity.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			var mint types.Mint
			mint[0] = byte(i + 1)
			p.Handle(frameWithPrograms(dex, spl, mint, 500_000))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Handle blocked under backpressure; expected non-blocking drops")
	}

	if p.drops.Backpressure.Load() == 0 {
		t.Fatalf("expected backpressure drops once the low-priority channel saturates")
	}
}

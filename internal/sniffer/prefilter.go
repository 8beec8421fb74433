package sniffer

import "solsniper/internal/types"

// voteDiscriminatorOffset/Byte identify vote transactions at a fixed offset
// (spec §4.B.2). The wire format places a single-byte instruction
// discriminator at offset 0; vote program invocations use 0x02.
const (
	voteDiscriminatorOffset = 0
	voteDiscriminatorByte   = 0x02
)

// primaryScanStart/End bound the regional scan's first pass: empirically
// the account-keys region for this wire format (spec §4.B.3).
const (
	primaryScanStart = 67
	primaryScanEnd   = 512
)

func sizeGate(n int) bool {
	return n >= types.MinFrameBytes && n <= types.MaxFrameBytes
}

func isVoteTransaction(data []byte) bool {
	if len(data) <= voteDiscriminatorOffset {
		return false
	}
	return data[voteDiscriminatorOffset] == voteDiscriminatorByte
}

// scanForProgram performs the regional scan from spec §4.B.3: primary
// region first with early exit, then the head, then the tail.
func scanForProgram(data []byte, needle types.ProgramID) bool {
	end := primaryScanEnd
	if end > len(data) {
		end = len(data)
	}
	if primaryScanStart < end && containsNeedle(data[primaryScanStart:end], needle[:]) {
		return true
	}

	headEnd := primaryScanStart
	if headEnd > len(data) {
		headEnd = len(data)
	}
	if containsNeedle(data[:headEnd], needle[:]) {
		return true
	}

	if primaryScanEnd < len(data) && containsNeedle(data[primaryScanEnd:], needle[:]) {
		return true
	}

	return false
}

func containsNeedle(haystack, needle []byte) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if bytesEqual(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// matchesInterestPrograms requires BOTH the primary DEX program and the SPL
// token program to be present for a frame to survive (spec §4.B.3).
func matchesInterestPrograms(data []byte, dexProgram, splTokenProgram types.ProgramID) bool {
	return scanForProgram(data, dexProgram) && scanForProgram(data, splTokenProgram)
}

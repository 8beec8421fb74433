// Package config defines the frozen configuration record every core
// component is handed once at startup (spec.md §6). Parsing it from the
// environment is an out-of-core concern: only cmd/sniper constructs one of
// these, using the teacher's getEnv/godotenv pattern — no package under the
// five core components imports this package for anything beyond the struct
// definitions themselves.
package config

import (
	"time"

	"github.com/shopspring/decimal"

	"solsniper/internal/analytics"
	"solsniper/internal/engine"
	"solsniper/internal/noncepool"
	"solsniper/internal/sniffer"
	"solsniper/internal/txbuilder"
	"solsniper/internal/types"
)

// PrefilterConfig holds the sniffer's mint-extraction tunable (spec.md §6
// row prefilter.safe_offsets).
type PrefilterConfig struct {
	SafeOffsets bool
}

// Config is the frozen record: one field/sub-struct per row of spec.md §6's
// configuration table, grouped the way the table itself groups them
// (top-level, prefilter.*, analytics.*, pool.*, engine.*).
type Config struct {
	InterestPrograms []types.ProgramID
	Prefilter        PrefilterConfig
	Analytics        analytics.Config
	Pool             noncepool.Config
	Engine           engine.Config
}

// Default returns the spec.md §6 defaults, delegating to each owning
// package's own DefaultConfig so there is a single source of truth per
// concern rather than a second copy of every default living here.
func Default() Config {
	return Config{
		Prefilter: PrefilterConfig{SafeOffsets: true},
		Analytics: analytics.DefaultConfig(),
		Pool:      noncepool.DefaultConfig(),
		Engine:    engine.DefaultConfig(),
	}
}

// AllowedProgramSet builds the map types.Candidate.Validate expects from
// the configured interest program list.
func (c Config) AllowedProgramSet() map[types.ProgramID]struct{} {
	set := make(map[types.ProgramID]struct{}, len(c.InterestPrograms))
	for _, p := range c.InterestPrograms {
		set[p] = struct{}{}
	}
	return set
}

// DEXPrograms names the two concrete interest programs the sniffer
// prefilter's hot path compares against directly (spec §4.B.3), drawn out
// of the general InterestPrograms list since the prefilter wants them by
// name rather than as a set membership test.
type DEXPrograms struct {
	DEX      types.ProgramID
	SPLToken types.ProgramID
}

// PipelineConfig derives the sniffer's PipelineConfig from the frozen
// record and the two concrete program IDs cmd/sniper resolves out of
// InterestPrograms.
func (c Config) PipelineConfig(programs DEXPrograms) sniffer.PipelineConfig {
	cfg := sniffer.DefaultPipelineConfig(programs.DEX, programs.SPLToken)
	cfg.SafeOffsets = c.Prefilter.SafeOffsets
	return cfg
}

// DefaultMaxNotional is the spec's 1 SOL notional-per-window default,
// decimal-typed since it flows straight into engine.Config.MaxNotionalPerWindow.
func DefaultMaxNotional() decimal.Decimal { return decimal.NewFromInt(1) }

// DefaultSimulationPolicy is the spec.md §6 Adaptive default.
const DefaultSimulationPolicy = txbuilder.AdaptiveSimulate

// Spec.md §6 Duration defaults as named constants. Nothing in the module
// reads them: cmd/sniper's env parsing falls back to the fields of Default().
const (
	DefaultAcquireTimeout = 50 * time.Millisecond
	DefaultRefreshPeriod  = 30 * time.Second
	DefaultMaxLeaseTTL    = 60 * time.Second
	DefaultCircuitWindow  = 60 * time.Second
	DefaultTickInterval   = 200 * time.Millisecond
)

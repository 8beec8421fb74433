package main

import (
	"encoding/hex"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"solsniper/internal/config"
	"solsniper/internal/txbuilder"
	"solsniper/internal/types"
)

// loadConfig assembles a frozen config.Config from the environment, the
// only place in the repo that is allowed to do so (spec.md §1 non-goals:
// configuration file loading is out-of-core). Grounded on the teacher's
// internal/config/config.go getEnv/godotenv pattern.
func loadConfig() config.Config {
	godotenv.Load()

	cfg := config.Default()

	cfg.InterestPrograms = parseProgramList(getEnv("INTEREST_PROGRAMS", ""))
	cfg.Prefilter.SafeOffsets = getEnvBool("PREFILTER_SAFE_OFFSETS", cfg.Prefilter.SafeOffsets)

	cfg.Analytics.AlphaShort = getEnvFloat("ANALYTICS_ALPHA_SHORT", cfg.Analytics.AlphaShort)
	cfg.Analytics.AlphaLong = getEnvFloat("ANALYTICS_ALPHA_LONG", cfg.Analytics.AlphaLong)
	cfg.Analytics.TickInterval = getEnvDuration("ANALYTICS_TICK_MS", cfg.Analytics.TickInterval)
	cfg.Analytics.ThresholdInit = getEnvFloat("ANALYTICS_THRESHOLD_INIT", cfg.Analytics.ThresholdInit)
	cfg.Analytics.ThresholdRate = getEnvFloat("ANALYTICS_THRESHOLD_RATE", cfg.Analytics.ThresholdRate)
	cfg.Analytics.SurgeThreshold = getEnvFloat("ANALYTICS_SURGE_THRESHOLD", cfg.Analytics.SurgeThreshold)

	cfg.Pool.InitialSize = getEnvInt("POOL_INITIAL_SIZE", cfg.Pool.InitialSize)
	cfg.Pool.MaxLeaseTTL = getEnvDurationSeconds("POOL_MAX_LEASE_TTL_SECONDS", cfg.Pool.MaxLeaseTTL)
	cfg.Pool.RefreshPeriod = getEnvDurationSeconds("POOL_REFRESH_PERIOD_SECONDS", cfg.Pool.RefreshPeriod)

	cfg.Engine.RateCapPerMin = getEnvInt("ENGINE_RATE_CAP_PER_MIN", cfg.Engine.RateCapPerMin)
	cfg.Engine.MaxNotionalPerWindow = getEnvDecimal("ENGINE_MAX_NOTIONAL_PER_WINDOW", cfg.Engine.MaxNotionalPerWindow)
	cfg.Engine.SimulationPolicy = parseSimulationPolicy(getEnv("ENGINE_SIMULATION_POLICY", ""), cfg.Engine.SimulationPolicy)
	cfg.Engine.CircuitMaxFailures = getEnvInt("ENGINE_CIRCUIT_MAX_FAILURES", cfg.Engine.CircuitMaxFailures)
	cfg.Engine.CircuitWindow = getEnvDurationSeconds("ENGINE_CIRCUIT_WINDOW_SECONDS", cfg.Engine.CircuitWindow)
	cfg.Engine.AcquireTimeout = getEnvDuration("ENGINE_ACQUIRE_TIMEOUT_MS", cfg.Engine.AcquireTimeout)
	cfg.Engine.PriorityFeeBase = uint64(getEnvInt("ENGINE_PRIORITY_FEE_BASE", int(cfg.Engine.PriorityFeeBase)))

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	ms := getEnvInt(key, int(defaultValue/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func getEnvDurationSeconds(key string, defaultValue time.Duration) time.Duration {
	secs := getEnvInt(key, int(defaultValue/time.Second))
	return time.Duration(secs) * time.Second
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return defaultValue
	}
	return d
}

// parseProgramList decodes a comma-separated list of hex-encoded 32-byte
// program IDs, the on-disk form the spec's interest_programs option takes.
func parseProgramList(raw string) []types.ProgramID {
	if raw == "" {
		return nil
	}
	var out []types.ProgramID
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			tok := raw[start:i]
			start = i + 1
			if tok == "" {
				continue
			}
			b, err := hex.DecodeString(tok)
			if err != nil || len(b) != 32 {
				continue
			}
			var id types.ProgramID
			copy(id[:], b)
			out = append(out, id)
		}
	}
	return out
}

func parseSimulationPolicy(raw string, defaultValue txbuilder.SimulationPolicy) txbuilder.SimulationPolicy {
	switch raw {
	case "adaptive":
		return txbuilder.AdaptiveSimulate
	case "always":
		return txbuilder.AlwaysSimulate
	case "never":
		return txbuilder.NeverSimulate
	case "allow":
		return txbuilder.AlwaysAllow
	default:
		return defaultValue
	}
}

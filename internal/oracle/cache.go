// Package oracle supplies the price-oracle snapshot collaborator the
// sniffer's volume-estimation stage consults (spec §4.B.6): converting a
// nominal token amount into a SOL-equivalent real number. Grounded on the
// teacher's internal/cache/price_cache.go TTL-cache pattern, generalized
// from a CoinMarketDTO-keyed cache to a mint-keyed one.
package oracle

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"solsniper/internal/logger"
	"solsniper/internal/types"
)

// Snapshot is one price observation: the SOL-equivalent value of one unit
// of a mint, as of Timestamp. Estimates are heuristic; the sniffer treats a
// cache miss as a zero volume_hint (low priority) per spec §4.B.6.
type Snapshot struct {
	SOLPerUnit decimal.Decimal
	Timestamp  time.Time
}

// Cache is an in-memory TTL cache of oracle snapshots, one per mint.
type Cache struct {
	mu     sync.RWMutex
	byMint map[types.Mint]Snapshot
	ttl    time.Duration
	log    *logger.Logger

	stop chan struct{}
}

// NewCache creates a cache with the given freshness window and starts its
// background cleanup sweep (every 5 minutes, matching the teacher's
// cadence).
func NewCache(ttl time.Duration, log *logger.Logger) *Cache {
	c := &Cache{
		byMint: make(map[types.Mint]Snapshot),
		ttl:    ttl,
		log:    log,
		stop:   make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached snapshot for mint if present and not expired.
func (c *Cache) Get(mint types.Mint) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.byMint[mint]
	if !ok {
		return Snapshot{}, false
	}
	if time.Since(snap.Timestamp) > c.ttl {
		return Snapshot{}, false
	}
	return snap, true
}

// GetStale returns the cached snapshot regardless of TTL expiry, for
// emergency fallback volume estimation when no fresh quote exists.
func (c *Cache) GetStale(mint types.Mint) (Snapshot, time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.byMint[mint]
	if !ok {
		return Snapshot{}, 0, false
	}
	return snap, time.Since(snap.Timestamp), true
}

// Set stores a fresh snapshot.
func (c *Cache) Set(mint types.Mint, solPerUnit decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byMint[mint] = Snapshot{SOLPerUnit: solPerUnit, Timestamp: time.Now()}
}

// EstimateVolume converts a nominal token amount into a SOL-equivalent
// volume_hint using the cached snapshot, or 0 on a cache miss (spec
// §4.B.6: "failure yields a zero volume_hint").
func (c *Cache) EstimateVolume(mint types.Mint, nominalAmount decimal.Decimal) float64 {
	snap, ok := c.Get(mint)
	if !ok {
		return 0
	}
	vol, _ := nominalAmount.Mul(snap.SOLPerUnit).Float64()
	return vol
}

const maxEntryAge = 24 * time.Hour

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweepExpired()
		}
	}
}

func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for mint, snap := range c.byMint {
		if time.Since(snap.Timestamp) > maxEntryAge {
			delete(c.byMint, mint)
			removed++
		}
	}
	if removed > 0 && c.log != nil {
		c.log.Debug("oracle cache cleanup", "removed", removed, "remaining", len(c.byMint))
	}
}

// Stats reports cache composition for observability.
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fresh, stale := 0, 0
	for _, snap := range c.byMint {
		if time.Since(snap.Timestamp) <= c.ttl {
			fresh++
		} else {
			stale++
		}
	}
	return map[string]interface{}{
		"total_entries": len(c.byMint),
		"fresh_entries": fresh,
		"stale_entries": stale,
		"ttl_seconds":   int(c.ttl.Seconds()),
	}
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

package noncepool

import (
	"context"
	"sync/atomic"
	"time"
)

// RunWatchdog is task T4: a 1Hz TTL sweep that reclaims leases older than
// MaxLeaseTTL (spec §4.C invariant 4). A reclaimed lease's revoked flag is
// set so the next method call on it observes ErrLeaseRevoked; its address is
// independently pushed through the normal release pathway with a Failed
// outcome, which moves the account to Refreshing (RunRefresh returns it to
// Idle).
func (p *Pool) RunWatchdog(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		case <-ticker.C:
			p.sweepExpiredLeases()
		}
	}
}

func (p *Pool) sweepExpiredLeases() {
	p.mu.RLock()
	accts := make([]*NonceAccount, 0, len(p.accounts))
	for _, acct := range p.accounts {
		accts = append(accts, acct)
	}
	p.mu.RUnlock()

	now := time.Now()
	for _, acct := range accts {
		acct.mu.Lock()
		expired := acct.state == Leased && now.Sub(acct.acquiredAt) > p.cfg.MaxLeaseTTL
		addr := acct.Address
		lease := acct.currentLease
		acct.mu.Unlock()

		if expired {
			if lease != nil {
				lease.markRevoked()
			}
			p.release(addr, Failed)
			if p.log != nil {
				p.log.Warn("noncepool lease TTL expired, reclaiming", "address", addr)
			}
		}
	}
}

func (l *Lease) markRevoked() { atomic.StoreInt32(&l.revoked, 1) }

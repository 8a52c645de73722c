package cache

import (
	"fmt"
	"time"

	"github.com/civisearch/civisearch/pkg/config"
)

// Policy maps a query's cumulative popularity to a cache lifetime. Tiers
// come from configuration; a zero TTL means the query is never cached.
type Policy struct {
	tiers []config.TTLTier
}

// NewPolicy validates and captures the tier table. Tiers must be ordered by
// MinHits ascending with non-decreasing TTLs so the mapping is monotonic.
func NewPolicy(tiers []config.TTLTier) (*Policy, error) {
	if len(tiers) == 0 {
		tiers = config.DefaultTiers()
	}
	for i := 1; i < len(tiers); i++ {
		if tiers[i].MinHits <= tiers[i-1].MinHits {
			return nil, fmt.Errorf("tier %d: min_hits must increase", i)
		}
		if tiers[i].TTL.Duration < tiers[i-1].TTL.Duration {
			return nil, fmt.Errorf("tier %d: ttl must not decrease", i)
		}
	}
	owned := make([]config.TTLTier, len(tiers))
	copy(owned, tiers)
	return &Policy{tiers: owned}, nil
}

// TTL returns the cache lifetime for a query requested hitCount times.
func (p *Policy) TTL(hitCount int) time.Duration {
	ttl := time.Duration(0)
	for _, tier := range p.tiers {
		if hitCount < tier.MinHits {
			break
		}
		ttl = tier.TTL.Duration
	}
	return ttl
}

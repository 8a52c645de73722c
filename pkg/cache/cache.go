// Package cache implements the popularity-driven query-result cache: TTL
// tiers, the persistent entry store, the per-key compute coalescing used by
// GetOrCompute, and a background reaper for expired rows.
//
// Caching here is strictly an optimization: store failures degrade to
// computing without a cache and are logged, never surfaced to the caller.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/civisearch/civisearch/pkg/log"
)

// ComputeFunc produces a fresh serialized result page.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Cache coordinates lookups against a Store with at-most-one concurrent
// computation per key. Waiters that exceed the wait budget compute
// redundantly instead of blocking indefinitely.
type Cache struct {
	store      Store
	waitBudget time.Duration
	group      singleflight.Group
	logger     *log.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(store Store, waitBudget time.Duration) *Cache {
	if waitBudget <= 0 {
		waitBudget = 2 * time.Second
	}
	return &Cache{
		store:      store,
		waitBudget: waitBudget,
		logger:     log.ForService("cache"),
		now:        time.Now,
	}
}

// GetOrCompute returns the cached payload for key when a fresh entry exists,
// otherwise computes one and stores it with the given ttl. The second return
// value reports whether the payload came from the cache.
//
// A ttl of zero disables caching for this key entirely: no lookup, no store,
// every call computes.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]byte, bool, error) {
	if ttl <= 0 {
		payload, err := compute(ctx)
		return payload, false, err
	}

	if entry := c.lookup(ctx, key); entry != nil {
		return entry.Payload, true, nil
	}

	// Coalesce concurrent misses for the same key. The leader re-checks the
	// store (another process may have committed meanwhile), computes and
	// stores; followers share its result. The closure only ever runs for the
	// caller that started the flight, so receiving from leading identifies
	// the leader.
	leading := make(chan struct{}, 1)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		leading <- struct{}{}
		if entry := c.lookup(ctx, key); entry != nil {
			return entry.Payload, nil
		}

		payload, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		computedAt := c.now().UTC()
		putErr := c.store.Put(ctx, Entry{
			Key:        key,
			Payload:    payload,
			ComputedAt: computedAt,
			ExpiresAt:  computedAt.Add(ttl),
		})
		if putErr != nil {
			// The freshly computed page is still correct for this
			// request; a failed write only costs the next caller.
			c.logger.Warnf("cache write for %s failed: %v", key, putErr)
		}

		return payload, nil
	})

	timer := time.NewTimer(c.waitBudget)
	defer timer.Stop()

	for {
		select {
		case res := <-ch:
			if res.Err != nil {
				// The leader failed (possibly because its caller went away).
				// Compute for ourselves rather than propagate a foreign error.
				payload, err := compute(ctx)
				return payload, false, err
			}
			return res.Val.([]byte), false, nil
		case <-timer.C:
			// The budget only applies to followers: the leader abandoning
			// its own in-flight computation would just run it twice.
			select {
			case <-leading:
				continue
			default:
			}
			c.logger.Debugf("wait budget exceeded for %s, computing redundantly", key)
			payload, err := compute(ctx)
			return payload, false, err
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// lookup reads the store, degrading store errors to a miss.
func (c *Cache) lookup(ctx context.Context, key string) *Entry {
	entry, err := c.store.Get(ctx, key, c.now())
	if err != nil {
		c.logger.Warnf("cache read for %s failed: %v", key, err)
		return nil
	}
	return entry
}

// Store exposes the underlying store, mainly for stats endpoints.
func (c *Cache) Store() Store {
	return c.store
}

package cache

import (
	"context"
	"time"

	"github.com/civisearch/civisearch/pkg/log"
)

// Reaper periodically removes provably expired cache rows. Expiry is already
// enforced on read, so this only bounds storage growth.
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *log.Logger
}

func NewReaper(store Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   log.ForService("reaper"),
	}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes expired rows once.
func (r *Reaper) Sweep(ctx context.Context) {
	n, err := r.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		r.logger.Warnf("sweep failed: %v", err)
		return
	}
	if n > 0 {
		r.logger.Debugf("removed %d expired entries", n)
	}
}

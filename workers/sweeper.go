// Package workers holds long-running background loops.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer drops expired entries and reports how many went.
type Expirer interface {
	ClearExpired() int
	Len() int
}

// CacheSweeper periodically clears expired listing cache entries. Lookups
// already ignore expired entries, so this only bounds memory.
type CacheSweeper struct {
	cache     Expirer
	interval  time.Duration
	triggerCh chan struct{}
	logger    *zap.Logger
}

func NewCacheSweeper(cache Expirer, interval time.Duration, logger *zap.Logger) *CacheSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheSweeper{
		cache:     cache,
		interval:  interval,
		triggerCh: make(chan struct{}, 1),
		logger:    logger.Named("cache-sweeper"),
	}
}

// Trigger causes the sweeper to run immediately
func (w *CacheSweeper) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *CacheSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("cache sweeper stopping")
			return
		case <-ticker.C:
			w.Sweep()
		case <-w.triggerCh:
			w.logger.Debug("cache sweeper triggered manually")
			w.Sweep()
		}
	}
}

// Sweep runs one pass and returns the number of entries removed.
func (w *CacheSweeper) Sweep() int {
	removed := w.cache.ClearExpired()
	if removed > 0 {
		w.logger.Debug("expired listings cleared", zap.Int("removed", removed), zap.Int("remaining", w.cache.Len()))
	}
	return removed
}

package scraper

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle admits one request per interval. Waiters are served in arrival
// order; none is dropped.
type Throttle struct {
	limiter *rate.Limiter
}

func NewThrottle(interval time.Duration) *Throttle {
	if interval <= 0 {
		return &Throttle{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

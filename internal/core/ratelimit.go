package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"streamagency.io/mode-router/internal/cache"
)

const (
	DefaultRateLimitMax    = 20
	DefaultRateLimitWindow = 60 * time.Second
)

// RateLimiter is a per-visitor fixed-window counter.
type RateLimiter struct {
	store  cache.Store
	max    int
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(store cache.Store, max int, window time.Duration) *RateLimiter {
	if max <= 0 {
		max = DefaultRateLimitMax
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{store: store, max: max, window: window, now: time.Now}
}

// Allow counts one request for id. A fresh window starts at count 1; once the
// count reaches the ceiling further calls are rejected without incrementing.
// Storage failures allow the request.
func (l *RateLimiter) Allow(ctx context.Context, id string) bool {
	now := l.now()
	c, found, err := l.store.GetCounter(ctx, id)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("visitorID", id).Msg("Rate limiter read failed, allowing request")
		return true
	}

	switch {
	case !found || now.After(c.ResetAt):
		c = cache.Counter{Count: 1, ResetAt: now.Add(l.window)}
	case c.Count >= l.max:
		return false
	default:
		c.Count++
	}

	if err := l.store.SetCounter(ctx, id, c, c.ResetAt.Sub(now)); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("visitorID", id).Msg("Rate limiter write failed")
	}
	return true
}

package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fxvol/internal/volatility"
)

// BarCache stores fetched series for a short time.
type BarCache interface {
	GetBars(ctx context.Context, key string) ([]volatility.PriceBar, bool, error)
	PutBars(ctx context.Context, key string, bars []volatility.PriceBar, ttl time.Duration) error
}

// Cached serves repeat fetches from a BarCache. Cache failures fall through
// to the wrapped source.
type Cached struct {
	next   Source
	cache  BarCache
	name   string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCached wraps next; name distinguishes providers within one cache.
func NewCached(next Source, cache BarCache, name string, ttl time.Duration, logger zerolog.Logger) *Cached {
	return &Cached{
		next:   next,
		cache:  cache,
		name:   name,
		ttl:    ttl,
		logger: logger.With().Str("component", "bar_cache").Logger(),
	}
}

// Fetch implements Source.
func (c *Cached) Fetch(ctx context.Context, symbol string, interval Interval, period string) ([]volatility.PriceBar, error) {
	key := fmt.Sprintf("%s:%s:%s:%s", c.name, symbol, interval, period)

	bars, ok, err := c.cache.GetBars(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("bar cache read failed")
	} else if ok {
		return bars, nil
	}

	bars, err = c.next.Fetch(ctx, symbol, interval, period)
	if err != nil {
		return nil, err
	}
	if err := c.cache.PutBars(ctx, key, bars, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("bar cache write failed")
	}
	return bars, nil
}

var _ Source = (*Cached)(nil)

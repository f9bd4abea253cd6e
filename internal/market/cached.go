package market

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"execution-core/internal/events"
	"execution-core/pkg/cache"
)

// CachedGateway wraps a Gateway with a short-TTL quote cache, a lookup rate
// limit and a per-lookup timeout. It keeps a large sweep from hammering the
// upstream source and keeps one slow symbol from stalling the batch.
type CachedGateway struct {
	inner   Gateway
	cache   *cache.QuoteCache
	limiter *rate.Limiter
	timeout time.Duration
}

// NewCachedGateway builds the wrapper. ttl bounds quote staleness; rps/burst
// bound upstream lookups; timeout bounds each individual lookup.
func NewCachedGateway(inner Gateway, ttl time.Duration, rps float64, burst int, timeout time.Duration) *CachedGateway {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &CachedGateway{
		inner:   inner,
		cache:   cache.NewQuoteCache(ttl),
		limiter: limiter,
		timeout: timeout,
	}
}

// GetQuote serves from cache when fresh, otherwise consults the inner
// gateway under the rate limit and timeout. All failure modes wrap
// ErrUnavailable so callers can treat them uniformly as "skip this tick".
func (g *CachedGateway) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	if e, ok := g.cache.GetFresh(symbol); ok {
		return Quote{
			Symbol:        symbol,
			Price:         e.Price,
			PreviousClose: e.PreviousClose,
			Timestamp:     e.UpdatedAt,
		}, nil
	}

	lookupCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(lookupCtx); err != nil {
			return Quote{}, fmt.Errorf("%w: rate limit wait for %s: %v", ErrUnavailable, symbol, err)
		}
	}

	q, err := g.inner.GetQuote(lookupCtx, symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: lookup %s: %v", ErrUnavailable, symbol, err)
	}

	g.cache.Set(symbol, cache.Entry{
		Price:         q.Price,
		PreviousClose: q.PreviousClose,
		UpdatedAt:     q.Timestamp,
	})
	return q, nil
}

// Observe feeds externally observed ticks (e.g. from the feed's event
// stream) into the cache so sweeps rarely need a gateway lookup at all.
func (g *CachedGateway) Observe(t events.Tick) {
	prev := 0.0
	if e, ok := g.cache.Get(t.Symbol); ok {
		prev = e.PreviousClose
	}
	g.cache.Set(t.Symbol, cache.Entry{
		Price:         t.Price,
		PreviousClose: prev,
		UpdatedAt:     t.At,
	})
}

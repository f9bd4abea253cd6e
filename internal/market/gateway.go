package market

import (
	"context"
	"fmt"
	"time"

	"execution-core/internal/order"
)

// ErrUnavailable marks a quote that could not be produced this tick.
// Callers skip the affected symbol and retry on the next sweep; it is
// never a sweep-halting condition. It wraps order.ErrTransientData so
// lifecycle code can classify it without importing this package.
var ErrUnavailable = fmt.Errorf("%w: quote unavailable", order.ErrTransientData)

// Quote is a point-in-time price observation for one symbol.
type Quote struct {
	Symbol        string
	Price         float64
	PreviousClose float64
	Timestamp     time.Time
}

// Mid returns a mid reference between the last price and previous close,
// used when the reference-price policy is "mid".
func (q Quote) Mid() float64 {
	if q.PreviousClose <= 0 {
		return q.Price
	}
	return (q.Price + q.PreviousClose) / 2
}

// Gateway is the market data contract. Implementations must be safe for
// concurrent use.
type Gateway interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// BatchQuotes fetches quotes for many symbols, best effort: symbols whose
// lookup fails are simply absent from the result.
func BatchQuotes(ctx context.Context, g Gateway, symbols []string) map[string]Quote {
	out := make(map[string]Quote, len(symbols))
	for _, sym := range symbols {
		if _, ok := out[sym]; ok {
			continue
		}
		q, err := g.GetQuote(ctx, sym)
		if err != nil {
			continue
		}
		out[sym] = q
	}
	return out
}

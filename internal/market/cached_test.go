package market

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/order"
)

// countingGateway records how many lookups reach the upstream source.
type countingGateway struct {
	calls atomic.Int64
	price float64
	err   error
}

func (g *countingGateway) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	g.calls.Add(1)
	if g.err != nil {
		return Quote{}, g.err
	}
	return Quote{Symbol: symbol, Price: g.price, PreviousClose: 140, Timestamp: time.Now()}, nil
}

func TestCachedGatewayServesFromCache(t *testing.T) {
	inner := &countingGateway{price: 150}
	g := NewCachedGateway(inner, time.Minute, 0, 0, 0)
	ctx := context.Background()

	q, err := g.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 150 {
		t.Fatalf("price = %v, want 150", q.Price)
	}

	for i := 0; i < 5; i++ {
		if _, err := g.GetQuote(ctx, "AAPL"); err != nil {
			t.Fatal(err)
		}
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("upstream lookups = %d, want 1", n)
	}
}

func TestCachedGatewayWrapsFailures(t *testing.T) {
	inner := &countingGateway{err: errors.New("connection refused")}
	g := NewCachedGateway(inner, time.Minute, 0, 0, 0)

	_, err := g.GetQuote(context.Background(), "AAPL")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, order.ErrTransientData) {
		t.Fatalf("err = %v, want a transient-data classification", err)
	}
}

func TestCachedGatewayObserve(t *testing.T) {
	inner := &countingGateway{price: 150}
	g := NewCachedGateway(inner, time.Minute, 0, 0, 0)
	ctx := context.Background()

	// Prime the cache through a lookup so previous close is known.
	if _, err := g.GetQuote(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}

	g.Observe(events.Tick{Symbol: "AAPL", Price: 152, At: time.Now()})
	q, err := g.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 152 {
		t.Fatalf("price after tick = %v, want 152", q.Price)
	}
	if q.PreviousClose != 140 {
		t.Fatalf("tick dropped previous close: %v", q.PreviousClose)
	}
	if n := inner.calls.Load(); n != 1 {
		t.Fatalf("upstream lookups = %d, want 1", n)
	}
}

func TestMockFeedQuotes(t *testing.T) {
	feed := &MockFeed{Symbols: []string{"AAPL"}, StartPrice: 150}
	ctx := context.Background()

	q, err := feed.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if q.Price != 150 || q.PreviousClose != 150 {
		t.Fatalf("quote = %+v, want 150/150", q)
	}

	if _, err := feed.GetQuote(ctx, "TSLA"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unknown symbol err = %v, want ErrUnavailable", err)
	}

	feed.SetPrice("AAPL", 160)
	feed.RollSession()
	q, _ = feed.GetQuote(ctx, "AAPL")
	if q.Price != 160 || q.PreviousClose != 160 {
		t.Fatalf("after roll = %+v, want 160/160", q)
	}
}

func TestQuoteMid(t *testing.T) {
	q := Quote{Price: 150, PreviousClose: 140}
	if got := q.Mid(); got != 145 {
		t.Errorf("mid = %v, want 145", got)
	}
	q.PreviousClose = 0
	if got := q.Mid(); got != 150 {
		t.Errorf("mid without close = %v, want last", got)
	}
}

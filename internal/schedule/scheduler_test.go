package schedule

import (
	"context"
	"testing"
	"time"

	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/internal/portfolio"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

func newTestScheduler(t *testing.T) (*Scheduler, *db.Database, *portfolio.Ledger, *market.MockFeed) {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	ledger := portfolio.NewLedger(d)
	now := time.Now().UTC()
	if err := ledger.Create(context.Background(), db.Portfolio{
		ID: "p1", Cash: 10000, TotalValue: 10000,
		RiskTolerance: "MEDIUM", MaxPositionPct: 0.20,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	feed := &market.MockFeed{Symbols: []string{"AAPL"}, StartPrice: 150}
	s := &Scheduler{
		DB:        d,
		Ledger:    ledger,
		Validator: risk.New(),
		Gateway:   feed,
		Calendar:  DefaultCalendar(),
		Reporter:  &reconciliation.Reporter{DB: d, Ledger: ledger},
		Symbols:   []string{"AAPL"},
	}
	return s, d, ledger, feed
}

func seedOrder(t *testing.T, d *db.Database, o order.Order) order.Order {
	t.Helper()
	if o.Status == "" {
		o.Status = order.StatusApproved
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := d.CreateOrder(context.Background(), o.Row()); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return o
}

func orderStatus(t *testing.T, d *db.Database, id string) (order.Status, string) {
	t.Helper()
	row, err := d.GetOrder(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return order.Status(row.Status), row.Reason
}

func TestMarketCloseCancelsDayNotGTC(t *testing.T) {
	s, d, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)

	seedOrder(t, d, order.Order{
		ID: "day1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 140,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
	})
	seedOrder(t, d, order.Order{
		ID: "gtc1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 140,
		TimeInForce: order.GTC, RiskLevel: order.RiskLow,
	})

	rep := s.MarketClose(ctx, now)
	if rep.Changed != 1 {
		t.Fatalf("changed = %d, want 1", rep.Changed)
	}

	st, reason := orderStatus(t, d, "day1")
	if st != order.StatusCancelled || reason != order.ReasonMarketClose {
		t.Errorf("day order = %s %q, want CANCELLED %q", st, reason, order.ReasonMarketClose)
	}
	if st, _ := orderStatus(t, d, "gtc1"); st != order.StatusApproved {
		t.Errorf("gtc order = %s, want APPROVED", st)
	}

	// The pass is idempotent: re-running it changes nothing.
	rep = s.MarketClose(ctx, now)
	if rep.Changed != 0 {
		t.Errorf("second run changed %d orders, want 0", rep.Changed)
	}
}

func TestEndOfDayExpiresOverdue(t *testing.T) {
	s, d, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)

	seedOrder(t, d, order.Order{
		ID: "stale", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 5, LimitPrice: 140,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
		Status:    order.StatusApproved,
		ExpiresAt: now.Add(-time.Hour),
	})
	seedOrder(t, d, order.Order{
		ID: "unreviewed", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 5, LimitPrice: 140,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
		Status:    order.StatusPending,
		ExpiresAt: now.Add(-time.Hour),
	})

	s.EndOfDay(ctx, now)
	st, reason := orderStatus(t, d, "stale")
	if st != order.StatusExpired || reason != order.ReasonExpired {
		t.Fatalf("got %s %q, want EXPIRED %q", st, reason, order.ReasonExpired)
	}

	// The sweep only judges approved orders; a pending order waits for
	// the open pass even when its expiry has passed.
	if st, _ := orderStatus(t, d, "unreviewed"); st != order.StatusPending {
		t.Fatalf("pending order = %s, want PENDING", st)
	}
}

func TestEndOfDayRollsOverGTCOnce(t *testing.T) {
	s, d, _, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 16, 30, 0, 0, time.UTC)

	seedOrder(t, d, order.Order{
		ID: "gtc1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 140,
		TimeInForce: order.GTC, RiskLevel: order.RiskLow,
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})

	s.EndOfDay(ctx, now)

	st, reason := orderStatus(t, d, "gtc1")
	if st != order.StatusCancelled || reason != order.ReasonRolledOver {
		t.Fatalf("original = %s %q, want CANCELLED %q", st, reason, order.ReasonRolledOver)
	}

	open, err := d.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open orders after rollover = %d, want 1 clone", len(open))
	}
	clone := order.FromRow(open[0])
	if clone.ID == "gtc1" {
		t.Error("clone must carry a fresh id")
	}
	if clone.Symbol != "AAPL" || clone.Qty != 10 || clone.LimitPrice != 140 || clone.TimeInForce != order.GTC {
		t.Errorf("clone lost terms: %+v", clone)
	}
	if !clone.CreatedAt.Equal(now) {
		t.Errorf("clone created_at = %v, want %v", clone.CreatedAt, now)
	}
	wantExpiry := time.Date(2026, 3, 3, 16, 0, 0, 0, time.UTC)
	if !clone.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("clone expires_at = %v, want next session close %v", clone.ExpiresAt, wantExpiry)
	}

	// A second run must not roll the clone again; it was created after
	// today's close.
	s.EndOfDay(ctx, now)
	open, err = d.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 {
		t.Fatalf("open orders after re-run = %d, want 1", len(open))
	}
	if order.FromRow(open[0]).ID != clone.ID {
		t.Error("re-run replaced the clone")
	}
}

func TestEndOfDayWritesSummaryOncePerDay(t *testing.T) {
	s, d, ledger, _ := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now().UTC()

	o := seedOrder(t, d, order.Order{
		ID: "fill1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
	})
	if _, err := ledger.CommitFill(ctx, o, 150, 0, nil, ""); err != nil {
		t.Fatalf("fill: %v", err)
	}

	rep := s.EndOfDay(ctx, now)
	if rep.Changed != 1 {
		t.Fatalf("first run changed = %d, want 1 summary", rep.Changed)
	}

	day := now.Format("2006-01-02")
	sum, err := d.GetDailySummary(ctx, "p1", day)
	if err != nil {
		t.Fatalf("summary missing: %v", err)
	}
	if sum.Executed != 1 {
		t.Errorf("executed = %d, want 1", sum.Executed)
	}

	rep = s.EndOfDay(ctx, now)
	if rep.Changed != 0 {
		t.Errorf("second run changed = %d, want 0", rep.Changed)
	}
	again, err := d.GetDailySummary(ctx, "p1", day)
	if err != nil {
		t.Fatal(err)
	}
	if again.Executed != sum.Executed || again.EndCash != sum.EndCash {
		t.Error("re-run altered the existing summary")
	}
}

func TestMarketOpenRevalidatesPending(t *testing.T) {
	s, d, _, feed := newTestScheduler(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	feed.SetPrice("AAPL", 150)

	seedOrder(t, d, order.Order{
		ID: "ok", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 150,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
		Status: order.StatusPending,
	})
	seedOrder(t, d, order.Order{
		ID: "broke", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 100,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
		Status: order.StatusPending,
	})

	rep := s.MarketOpen(ctx, now)
	if rep.Changed != 2 {
		t.Fatalf("changed = %d, want 2", rep.Changed)
	}

	if st, _ := orderStatus(t, d, "ok"); st != order.StatusApproved {
		t.Errorf("affordable order = %s, want APPROVED", st)
	}
	st, reason := orderStatus(t, d, "broke")
	if st != order.StatusRejected || reason != order.ReasonInsufficientCash {
		t.Errorf("oversized order = %s %q, want REJECTED %q", st, reason, order.ReasonInsufficientCash)
	}
}

type deadGateway struct{}

func (deadGateway) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	return market.Quote{}, market.ErrUnavailable
}

func TestMarketOpenSkipsWithoutQuotes(t *testing.T) {
	s, d, _, _ := newTestScheduler(t)
	s.Gateway = deadGateway{}
	ctx := context.Background()

	seedOrder(t, d, order.Order{
		ID: "pend", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 150,
		TimeInForce: order.Day, RiskLevel: order.RiskLow,
		Status: order.StatusPending,
	})

	rep := s.MarketOpen(ctx, time.Now().UTC())
	if rep.Skipped != 1 || rep.Changed != 0 {
		t.Fatalf("skipped=%d changed=%d, want 1/0", rep.Skipped, rep.Changed)
	}
	if st, _ := orderStatus(t, d, "pend"); st != order.StatusPending {
		t.Errorf("order moved to %s without a quote", st)
	}
}

func TestHourlyCancelsUncarriableOrders(t *testing.T) {
	s, d, _, feed := newTestScheduler(t)
	ctx := context.Background()
	now := time.Now().UTC()
	feed.SetPrice("AAPL", 150)

	seedOrder(t, d, order.Order{
		ID: "big", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 100,
		TimeInForce: order.GTC, RiskLevel: order.RiskLow,
	})

	rep := s.Hourly(ctx, now)
	if rep.Changed != 1 {
		t.Fatalf("changed = %d, want 1", rep.Changed)
	}
	st, reason := orderStatus(t, d, "big")
	if st != order.StatusCancelled || reason != order.ReasonInsufficientCash {
		t.Fatalf("got %s %q, want CANCELLED %q", st, reason, order.ReasonInsufficientCash)
	}
}

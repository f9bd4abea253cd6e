package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"

	"execution-core/internal/order"
	"execution-core/pkg/db"
)

func newTestLedger(t *testing.T) (*Ledger, *db.Database) {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return NewLedger(d), d
}

func seed(t *testing.T, l *Ledger, id string, cash float64) {
	t.Helper()
	now := time.Now().UTC()
	err := l.Create(context.Background(), db.Portfolio{
		ID:             id,
		Cash:           cash,
		TotalValue:     cash,
		RiskTolerance:  "MEDIUM",
		MaxPositionPct: 0.20,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func placeApproved(t *testing.T, d *db.Database, o order.Order) order.Order {
	t.Helper()
	o.Status = order.StatusApproved
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if err := d.CreateOrder(context.Background(), o.Row()); err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}

func TestCommitFillBuy(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 10000)

	o := placeApproved(t, d, order.Order{
		ID: "o1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Limit, Qty: 10, LimitPrice: 150,
		TimeInForce: order.Day, RiskLevel: order.RiskMedium,
	})

	trade, err := l.CommitFill(ctx, o, 149, 0, nil, "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if trade.Price != 149 || trade.Qty != 10 {
		t.Fatalf("trade mismatch: %+v", trade)
	}

	snap, err := l.Snapshot(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(snap.Cash-8510) > 1e-9 {
		t.Fatalf("cash = %.2f, want 8510", snap.Cash)
	}
	pos := snap.Positions["AAPL"]
	if pos.Qty != 10 || pos.AvgCost != 149 {
		t.Fatalf("position = %+v", pos)
	}
}

func TestCommitFillAveragesCost(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 10000)

	o1 := placeApproved(t, d, order.Order{
		ID: "o1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, o1, 100, 0, nil, ""); err != nil {
		t.Fatal(err)
	}
	o2 := placeApproved(t, d, order.Order{
		ID: "o2", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, o2, 120, 0, nil, ""); err != nil {
		t.Fatal(err)
	}

	snap, _ := l.Snapshot(ctx, "p1")
	pos := snap.Positions["AAPL"]
	if pos.Qty != 20 || math.Abs(pos.AvgCost-110) > 1e-9 {
		t.Fatalf("avg cost = %.4f on qty %.2f, want 110 on 20", pos.AvgCost, pos.Qty)
	}
}

func TestCommitFillSellRealizesPnL(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 10000)

	buy := placeApproved(t, d, order.Order{
		ID: "b1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, buy, 100, 0, nil, ""); err != nil {
		t.Fatal(err)
	}

	sell := placeApproved(t, d, order.Order{
		ID: "s1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Sell, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	trade, err := l.CommitFill(ctx, sell, 120, 5, nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(trade.RealizedPnL-195) > 1e-9 { // (120-100)*10 - 5
		t.Fatalf("realized = %.2f, want 195", trade.RealizedPnL)
	}

	snap, _ := l.Snapshot(ctx, "p1")
	if _, held := snap.Positions["AAPL"]; held {
		t.Fatal("fully closed position should be removed")
	}
	if math.Abs(snap.Cash-10195) > 1e-9 { // 10000 - 1000 + 1200 - 5
		t.Fatalf("cash = %.2f, want 10195", snap.Cash)
	}
}

func TestCommitFillGuards(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 1000)

	buy := placeApproved(t, d, order.Order{
		ID: "b1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, buy, 150, 0, nil, ""); !errors.Is(err, ErrInsufficientCash) {
		t.Fatalf("got %v, want ErrInsufficientCash", err)
	}

	sell := placeApproved(t, d, order.Order{
		ID: "s1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Sell, Type: order.Market, Qty: 5, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, sell, 150, 0, nil, ""); !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("got %v, want ErrInsufficientShares", err)
	}
}

func TestCommitFillConflictOnReplay(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 10000)

	o := placeApproved(t, d, order.Order{
		ID: "o1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, o, 100, 0, nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CommitFill(ctx, o, 100, 0, nil, ""); !errors.Is(err, order.ErrConflict) {
		t.Fatalf("replay: got %v, want ErrConflict", err)
	}

	snap, _ := l.Snapshot(ctx, "p1")
	if math.Abs(snap.Cash-9000) > 1e-9 {
		t.Fatalf("cash moved twice: %.2f", snap.Cash)
	}
}

func TestReconcileRecomputesValue(t *testing.T) {
	l, d := newTestLedger(t)
	ctx := context.Background()
	seed(t, l, "p1", 10000)

	o := placeApproved(t, d, order.Order{
		ID: "o1", Symbol: "AAPL", PortfolioID: "p1",
		Action: order.Buy, Type: order.Market, Qty: 10, TimeInForce: order.Day,
	})
	if _, err := l.CommitFill(ctx, o, 100, 0, nil, ""); err != nil {
		t.Fatal(err)
	}

	snap, unrealized, err := l.Reconcile(ctx, "p1", map[string]float64{"AAPL": 110})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(snap.TotalValue-10100) > 1e-9 { // 9000 cash + 10*110
		t.Fatalf("total = %.2f, want 10100", snap.TotalValue)
	}
	if math.Abs(unrealized-100) > 1e-9 {
		t.Fatalf("unrealized = %.2f, want 100", unrealized)
	}
}

// Cash plus cost basis of open positions stays constant through any
// sequence of commission-free fills.
func TestCashConservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		l, d := newTestLedger(t)
		ctx := context.Background()

		const start = 100000.0
		now := time.Now().UTC()
		if err := l.Create(ctx, db.Portfolio{
			ID: "p", Cash: start, TotalValue: start,
			RiskTolerance: "MEDIUM", MaxPositionPct: 1,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			rt.Fatal(err)
		}

		symbols := []string{"AAPL", "MSFT"}
		steps := rapid.IntRange(1, 25).Draw(rt, "steps")
		spent := 0.0 // net cash out, tracked against realized gains

		for i := 0; i < steps; i++ {
			sym := rapid.SampledFrom(symbols).Draw(rt, "sym")
			qty := float64(rapid.IntRange(1, 20).Draw(rt, "qty"))
			price := float64(rapid.IntRange(10, 200).Draw(rt, "price"))
			sellSide := rapid.Bool().Draw(rt, "sell")

			action := order.Buy
			if sellSide {
				action = order.Sell
			}
			o := order.Order{
				ID: fmt.Sprintf("o%d", i), Symbol: sym, PortfolioID: "p",
				Action: action, Type: order.Market, Qty: qty,
				TimeInForce: order.Day, Status: order.StatusApproved,
				CreatedAt: now,
			}
			if err := d.CreateOrder(ctx, o.Row()); err != nil {
				rt.Fatal(err)
			}

			_, err := l.CommitFill(ctx, o, price, 0, nil, "")
			if err != nil {
				if errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrInsufficientShares) {
					continue
				}
				rt.Fatalf("commit: %v", err)
			}
			if action == order.Buy {
				spent += qty * price
			} else {
				spent -= qty * price
			}
		}

		snap, err := l.Snapshot(ctx, "p")
		if err != nil {
			rt.Fatal(err)
		}
		if snap.Cash < 0 {
			rt.Fatalf("cash went negative: %.2f", snap.Cash)
		}
		if math.Abs(snap.Cash-(start-spent)) > 1e-6 {
			rt.Fatalf("cash = %.4f, want %.4f", snap.Cash, start-spent)
		}
	})
}

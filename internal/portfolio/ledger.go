package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/order"
	"execution-core/pkg/db"
)

var (
	// ErrInsufficientCash marks a buy commit that would drive cash negative.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientShares marks a sell commit exceeding the held quantity.
	ErrInsufficientShares = errors.New("insufficient held quantity")
)

// closeEpsilon treats residual quantities below this as a closed position.
const closeEpsilon = 1e-9

// Position is a held quantity with volume-weighted average cost.
type Position struct {
	Symbol  string
	Qty     float64
	AvgCost float64
}

// Snapshot is a point-in-time read of one portfolio. It is a copy; holding
// one confers no lock.
type Snapshot struct {
	ID                 string
	Cash               float64
	TotalValue         float64
	DayTradingEnabled  bool
	RiskTolerance      order.RiskLevel
	MaxPositionPercent float64
	Positions          map[string]Position
}

// MarketValue prices the open positions with the given prices, falling
// back to average cost for symbols without a quote.
func (s *Snapshot) MarketValue(prices map[string]float64) float64 {
	total := 0.0
	for sym, p := range s.Positions {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			price = p.AvgCost
		}
		total += p.Qty * price
	}
	return total
}

// Ledger is the single authoritative store of portfolio cash and
// positions. Every mutation of one portfolio passes through that
// portfolio's lock, so commits apply in acceptance order per portfolio
// while distinct portfolios proceed in parallel.
type Ledger struct {
	db *db.Database

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the database.
func NewLedger(database *db.Database) *Ledger {
	return &Ledger{
		db:    database,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(portfolioID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[portfolioID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[portfolioID] = m
	}
	return m
}

// Create seeds a new portfolio row.
func (l *Ledger) Create(ctx context.Context, p db.Portfolio) error {
	if p.TotalValue == 0 {
		p.TotalValue = p.Cash
	}
	if err := l.db.CreatePortfolio(ctx, p); err != nil {
		return fmt.Errorf("%w: %v", order.ErrPersistence, err)
	}
	log.Printf("ledger: created portfolio %s cash=%.2f", p.ID, p.Cash)
	return nil
}

// Snapshot reads a portfolio and its positions.
func (l *Ledger) Snapshot(ctx context.Context, portfolioID string) (*Snapshot, error) {
	p, err := l.db.GetPortfolio(ctx, portfolioID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: portfolio %s", order.ErrValidation, portfolioID)
		}
		return nil, fmt.Errorf("%w: %v", order.ErrPersistence, err)
	}
	rows, err := l.db.ListPositions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", order.ErrPersistence, err)
	}

	s := &Snapshot{
		ID:                 p.ID,
		Cash:               p.Cash,
		TotalValue:         p.TotalValue,
		DayTradingEnabled:  p.DayTradingEnabled,
		RiskTolerance:      order.RiskLevel(p.RiskTolerance),
		MaxPositionPercent: p.MaxPositionPct,
		Positions:          make(map[string]Position, len(rows)),
	}
	for _, r := range rows {
		s.Positions[r.Symbol] = Position{Symbol: r.Symbol, Qty: r.Qty, AvgCost: r.AvgCost}
	}
	return s, nil
}

// CommitFill executes one order at the given price inside the portfolio's
// serialization point: cash moves, the position's volume-weighted average
// cost updates, a trade is recorded and the order flips APPROVED→EXECUTED,
// all in one transaction. Bracket children and an OCO sibling cancel ride
// the same transaction so no window exists where both siblings can fire.
//
// A lost status race returns order.ErrConflict and writes nothing; a cash
// or share shortfall returns the matching sentinel and writes nothing.
func (l *Ledger) CommitFill(ctx context.Context, o order.Order, price, commission float64, children []order.Order, cancelSiblingID string) (*db.Trade, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: non-positive fill price", order.ErrValidation)
	}

	lock := l.lockFor(o.PortfolioID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := l.Snapshot(ctx, o.PortfolioID)
	if err != nil {
		return nil, err
	}

	fill := db.Fill{
		OrderID:         o.ID,
		ExecutedAt:      time.Now().UTC(),
		PortfolioID:     o.PortfolioID,
		CancelSiblingID: cancelSiblingID,
		CancelNote:      order.ReasonOCOSibling,
	}

	pos := snap.Positions[o.Symbol]
	notional := o.Qty * price
	realized := 0.0

	switch o.Action {
	case order.Buy:
		cost := notional + commission
		if cost > snap.Cash {
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, snap.Cash)
		}
		newQty := pos.Qty + o.Qty
		newAvg := (pos.Qty*pos.AvgCost + notional) / newQty
		fill.NewCash = snap.Cash - cost
		fill.Position = &db.Position{
			PortfolioID: o.PortfolioID,
			Symbol:      o.Symbol,
			Qty:         newQty,
			AvgCost:     newAvg,
		}
	case order.Sell:
		if o.Qty > pos.Qty+closeEpsilon {
			return nil, fmt.Errorf("%w: selling %.4f, holding %.4f", ErrInsufficientShares, o.Qty, pos.Qty)
		}
		realized = (price-pos.AvgCost)*o.Qty - commission
		fill.NewCash = snap.Cash + notional - commission
		newQty := pos.Qty - o.Qty
		if newQty <= closeEpsilon {
			fill.DeleteSymbol = o.Symbol
		} else {
			fill.Position = &db.Position{
				PortfolioID: o.PortfolioID,
				Symbol:      o.Symbol,
				Qty:         newQty,
				AvgCost:     pos.AvgCost,
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", order.ErrValidation, o.Action)
	}

	trade := db.Trade{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Action:      string(o.Action),
		Price:       price,
		Qty:         o.Qty,
		Commission:  commission,
		RealizedPnL: realized,
		CreatedAt:   fill.ExecutedAt,
	}
	fill.Trade = trade

	for _, c := range children {
		fill.Children = append(fill.Children, c.Row())
	}

	if err := l.db.ApplyFill(ctx, fill); err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: order %s already terminal", order.ErrConflict, o.ID)
		}
		return nil, fmt.Errorf("%w: %v", order.ErrPersistence, err)
	}

	log.Printf("ledger: %s fill %s %s %.4f @ %.4f cash=%.2f realized=%.2f",
		o.PortfolioID, o.Action, o.Symbol, o.Qty, price, fill.NewCash, realized)
	return &trade, nil
}

// Reconcile recomputes a portfolio's total value from current prices under
// the portfolio lock and persists it. Returns the updated snapshot and the
// unrealized P&L across open positions.
func (l *Ledger) Reconcile(ctx context.Context, portfolioID string, prices map[string]float64) (*Snapshot, float64, error) {
	lock := l.lockFor(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := l.Snapshot(ctx, portfolioID)
	if err != nil {
		return nil, 0, err
	}

	marketValue := snap.MarketValue(prices)
	total := snap.Cash + marketValue

	unrealized := 0.0
	for sym, p := range snap.Positions {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			price = p.AvgCost
		}
		unrealized += (price - p.AvgCost) * p.Qty
	}

	if err := l.db.UpdatePortfolioValue(ctx, portfolioID, snap.Cash, total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", order.ErrPersistence, err)
	}
	snap.TotalValue = total

	log.Printf("ledger: reconciled %s cash=%.2f total=%.2f unrealized=%.2f",
		portfolioID, snap.Cash, total, unrealized)
	return snap, unrealized, nil
}

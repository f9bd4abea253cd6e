package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/internal/portfolio"
	"execution-core/pkg/db"
)

// ExitPolicy prices the protective bracket for a filled entry that did
// not carry explicit stop or target levels. Both legs are anchored at
// the actual fill price.
type ExitPolicy struct {
	StopPct    float64 // stop distance as a fraction of the fill price
	RewardRisk float64 // target distance as a multiple of the stop distance
}

// Sweeper walks the open order book against current quotes and commits
// fills. Sweeps are safe to run concurrently with each other and with
// lifecycle passes; the store's status compare-and-swap makes sure each
// order executes at most once.
type Sweeper struct {
	DB         *db.Database
	Ledger     *portfolio.Ledger
	Gateway    market.Gateway
	Bus        *events.Bus
	Metrics    *SystemMetrics
	Interval   time.Duration
	Commission float64 // fraction of notional charged per fill
	Reference  string  // "last" or "mid"
	Exits      ExitPolicy
}

// Report summarizes one sweep pass.
type Report struct {
	Scanned  int `json:"scanned"`
	Executed int `json:"executed"`
	Armed    int `json:"armed"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Start runs sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					log.Printf("sweeper: sweep failed: %v", err)
				}
			}
		}
	}()
}

// Sweep evaluates every APPROVED order against a fresh batch of quotes.
// A symbol whose quote is unavailable is skipped for this pass and
// retried on the next one.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	timer := s.timer(s.sweepHistogram())
	defer timer.Stop()

	dbTimer := s.timer(s.dbHistogram())
	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusApproved))
	dbTimer.Stop()
	if err != nil {
		s.countError()
		return rep, err
	}

	symbols := make([]string, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if !seen[r.Symbol] {
			seen[r.Symbol] = true
			symbols = append(symbols, r.Symbol)
		}
	}
	quotes := market.BatchQuotes(ctx, s.Gateway, symbols)

	for _, row := range rows {
		rep.Scanned++
		o := order.FromRow(row)

		q, ok := quotes[o.Symbol]
		if !ok {
			rep.Skipped++
			s.countSkipped()
			continue
		}
		price := s.referencePrice(q)

		fill, arm := o.Evaluate(price)
		if arm {
			if err := s.DB.SetStopArmed(ctx, o.ID); err != nil && !errors.Is(err, db.ErrStaleStatus) {
				rep.Errors++
				s.countError()
				log.Printf("sweeper: arm %s: %v", o.ID, err)
				continue
			}
			rep.Armed++
			continue
		}
		if !fill {
			continue
		}

		if err := s.execute(ctx, o, price); err != nil {
			if errors.Is(err, order.ErrConflict) {
				// Another sweep or a lifecycle pass won the race.
				continue
			}
			rep.Errors++
			s.countError()
			log.Printf("sweeper: execute %s: %v", o.ID, err)
			continue
		}
		rep.Executed++
		s.countExecuted()
	}

	if s.Metrics != nil {
		s.Metrics.IncrementSweeps()
	}
	return rep, nil
}

// execute commits a single fill: trade, ledger movement, bracket
// children and the OCO sibling cancel all land in one store transaction.
func (s *Sweeper) execute(ctx context.Context, o order.Order, price float64) error {
	fillPrice := o.FillPrice(price)
	commission := s.Commission * o.Notional(fillPrice)

	children := s.bracketChildren(o, fillPrice)
	sibling, err := s.openSibling(ctx, o)
	if err != nil {
		return err
	}

	fillTimer := s.timer(s.fillHistogram())
	_, err = s.Ledger.CommitFill(ctx, o, fillPrice, commission, children, sibling)
	fillTimer.Stop()
	if err != nil {
		if errors.Is(err, portfolio.ErrInsufficientCash) || errors.Is(err, portfolio.ErrInsufficientShares) {
			// The portfolio can no longer settle this order. Retire it
			// instead of retrying every sweep.
			return s.cancelUnsettleable(ctx, o, err)
		}
		return err
	}

	now := time.Now()
	s.publish(events.EventOrderExecuted, o, string(order.StatusExecuted), "", now)
	for _, c := range children {
		s.publish(events.EventOrderCreated, c, string(order.StatusApproved), "", now)
	}
	if sibling != "" {
		s.publish(events.EventOrderCancelled, order.Order{ID: sibling, PortfolioID: o.PortfolioID, Symbol: o.Symbol},
			string(order.StatusCancelled), order.ReasonOCOSibling, now)
	}
	return nil
}

// bracketChildren builds the protective exit pair for a filled entry.
// Only entries spawn exits; bracket legs never nest further.
func (s *Sweeper) bracketChildren(o order.Order, fillPrice float64) []order.Order {
	if o.ParentOrderID != "" || o.Action != order.Buy {
		return nil
	}

	stop := o.StopLossPrice
	if stop <= 0 && s.Exits.StopPct > 0 {
		stop = fillPrice * (1 - s.Exits.StopPct)
	}
	target := o.TakeProfitPrice
	if target <= 0 && stop > 0 && s.Exits.RewardRisk > 0 {
		target = fillPrice + s.Exits.RewardRisk*(fillPrice-stop)
	}
	if stop <= 0 || target <= 0 {
		return nil
	}

	now := time.Now()
	stopLeg := order.Order{
		ID:            uuid.NewString(),
		Symbol:        o.Symbol,
		PortfolioID:   o.PortfolioID,
		Action:        order.Sell,
		Type:          order.StopLimit,
		Qty:           o.Qty,
		LimitPrice:    stop,
		StopPrice:     stop,
		TimeInForce:   order.GTC,
		RiskLevel:     o.RiskLevel,
		Status:        order.StatusApproved,
		ParentOrderID: o.ID,
		CreatedAt:     now,
	}
	targetLeg := order.Order{
		ID:            uuid.NewString(),
		Symbol:        o.Symbol,
		PortfolioID:   o.PortfolioID,
		Action:        order.Sell,
		Type:          order.Limit,
		Qty:           o.Qty,
		LimitPrice:    target,
		TimeInForce:   order.GTC,
		RiskLevel:     o.RiskLevel,
		Status:        order.StatusApproved,
		ParentOrderID: o.ID,
		CreatedAt:     now,
	}
	return []order.Order{stopLeg, targetLeg}
}

// openSibling finds the other live leg of an OCO pair, if any.
func (s *Sweeper) openSibling(ctx context.Context, o order.Order) (string, error) {
	if o.ParentOrderID == "" {
		return "", nil
	}
	siblings, err := s.DB.ListOpenChildren(ctx, o.ParentOrderID)
	if err != nil {
		return "", err
	}
	for _, sib := range siblings {
		if sib.ID != o.ID {
			return sib.ID, nil
		}
	}
	return "", nil
}

func (s *Sweeper) cancelUnsettleable(ctx context.Context, o order.Order, cause error) error {
	err := s.DB.UpdateOrderStatus(ctx, o.ID,
		string(order.StatusApproved), string(order.StatusCancelled), cause.Error(), time.Time{})
	if err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return nil
		}
		return err
	}
	s.publish(events.EventOrderCancelled, o, string(order.StatusCancelled), cause.Error(), time.Now())
	return nil
}

func (s *Sweeper) referencePrice(q market.Quote) float64 {
	if s.Reference == "mid" {
		return q.Mid()
	}
	return q.Price
}

func (s *Sweeper) publish(topic events.Event, o order.Order, status, reason string, at time.Time) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(topic, events.OrderUpdate{
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Status:      status,
		Reason:      reason,
		At:          at,
	})
}

func (s *Sweeper) timer(h *LatencyHistogram) *Timer { return NewTimer(h) }

func (s *Sweeper) sweepHistogram() *LatencyHistogram {
	if s.Metrics == nil {
		return nil
	}
	return s.Metrics.SweepLatency
}

func (s *Sweeper) fillHistogram() *LatencyHistogram {
	if s.Metrics == nil {
		return nil
	}
	return s.Metrics.FillLatency
}

func (s *Sweeper) dbHistogram() *LatencyHistogram {
	if s.Metrics == nil {
		return nil
	}
	return s.Metrics.DBLatency
}

func (s *Sweeper) countExecuted() {
	if s.Metrics != nil {
		s.Metrics.IncrementExecuted()
	}
}

func (s *Sweeper) countSkipped() {
	if s.Metrics != nil {
		s.Metrics.IncrementSkipped()
	}
}

func (s *Sweeper) countError() {
	if s.Metrics != nil {
		s.Metrics.IncrementErrors()
	}
}

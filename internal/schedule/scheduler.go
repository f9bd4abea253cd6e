package schedule

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
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

// Scheduler drives the daily lifecycle passes. Every pass is idempotent:
// the store's status compare-and-swap makes a re-run of the same pass a
// no-op, and daily summaries are write-once per portfolio day. One order
// failing never aborts the rest of a pass.
type Scheduler struct {
	DB        *db.Database
	Ledger    *portfolio.Ledger
	Validator *risk.Validator
	Gateway   market.Gateway
	Bus       *events.Bus
	Calendar  *Calendar
	Reporter  *reconciliation.Reporter

	// RetentionDays bounds how long terminal orders are kept. Zero
	// disables pruning. Summaries are never pruned.
	RetentionDays int

	// Symbols to price portfolios with during end-of-day reconciliation.
	Symbols []string
}

// RunReport summarizes one lifecycle pass.
type RunReport struct {
	Pass      string    `json:"pass"`
	At        time.Time `json:"at"`
	Processed int       `json:"processed"`
	Changed   int       `json:"changed"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
}

// MarketOpen re-validates orders that went PENDING while the market was
// closed, moving each to APPROVED or REJECTED against the portfolio's
// current state.
func (s *Scheduler) MarketOpen(ctx context.Context, now time.Time) RunReport {
	rep := RunReport{Pass: "market_open", At: now}

	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusPending))
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: open pass list: %v", err)
		return rep
	}

	for _, row := range rows {
		rep.Processed++
		o := order.FromRow(row)

		in, err := s.checkInput(ctx, o, now)
		if err != nil {
			if errors.Is(err, market.ErrUnavailable) {
				rep.Skipped++
				continue
			}
			rep.Errors++
			log.Printf("scheduler: open pass %s: %v", o.ID, err)
			continue
		}

		ok, reason := s.Validator.Recheck(o, in)
		if ok {
			s.transition(ctx, &rep, o, order.StatusPending, order.StatusApproved, "", events.EventOrderApproved)
		} else {
			s.transition(ctx, &rep, o, order.StatusPending, order.StatusRejected, reason, events.EventOrderRejected)
		}
	}
	s.announce(rep)
	return rep
}

// MarketClose force-cancels every unfilled DAY order. GTC orders ride
// through untouched.
func (s *Scheduler) MarketClose(ctx context.Context, now time.Time) RunReport {
	rep := RunReport{Pass: "market_close", At: now}

	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: close pass list: %v", err)
		return rep
	}

	for _, row := range rows {
		o := order.FromRow(row)
		if o.TimeInForce != order.Day {
			continue
		}
		rep.Processed++
		s.transition(ctx, &rep, o, order.StatusApproved, order.StatusCancelled,
			order.ReasonMarketClose, events.EventOrderCancelled)
	}
	s.announce(rep)
	return rep
}

// EndOfDay expires overdue orders, rolls GTC survivors into clones dated
// for the next session, reconciles and summarizes every portfolio, and
// prunes terminal orders past retention.
func (s *Scheduler) EndOfDay(ctx context.Context, now time.Time) RunReport {
	rep := RunReport{Pass: "end_of_day", At: now}
	closeTime := s.Calendar.SessionClose(now)

	// Rollover runs before the expiry sweep so a surviving GTC order is
	// re-dated rather than expired against the window it just outlived.
	s.rolloverGTC(ctx, &rep, now, closeTime)
	s.expireOverdue(ctx, &rep, now)
	s.closeBooks(ctx, &rep, now)

	if s.RetentionDays > 0 {
		cutoff := now.AddDate(0, 0, -s.RetentionDays)
		if n, err := s.DB.PruneOrders(ctx, cutoff); err != nil {
			rep.Errors++
			log.Printf("scheduler: prune: %v", err)
		} else if n > 0 {
			log.Printf("scheduler: pruned %d terminal orders older than %s", n, cutoff.Format("2006-01-02"))
		}
	}
	s.announce(rep)
	return rep
}

// Hourly re-checks live orders between the open and close passes:
// orders past their expiry leave early, and orders whose portfolio can
// no longer carry them are cancelled.
func (s *Scheduler) Hourly(ctx context.Context, now time.Time) RunReport {
	rep := RunReport{Pass: "hourly", At: now}

	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: hourly pass list: %v", err)
		return rep
	}

	for _, row := range rows {
		rep.Processed++
		o := order.FromRow(row)

		if !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt) {
			s.transition(ctx, &rep, o, order.StatusApproved, order.StatusExpired,
				order.ReasonExpired, events.EventOrderExpired)
			continue
		}

		in, err := s.checkInput(ctx, o, now)
		if err != nil {
			if errors.Is(err, market.ErrUnavailable) {
				rep.Skipped++
				continue
			}
			rep.Errors++
			log.Printf("scheduler: hourly pass %s: %v", o.ID, err)
			continue
		}
		if ok, reason := s.Validator.Recheck(o, in); !ok {
			s.transition(ctx, &rep, o, order.StatusApproved, order.StatusCancelled,
				reason, events.EventOrderCancelled)
		}
	}
	s.announce(rep)
	return rep
}

// expireOverdue moves every APPROVED order past its expiry to EXPIRED.
// PENDING orders are left for the market-open pass to adjudicate.
func (s *Scheduler) expireOverdue(ctx context.Context, rep *RunReport, now time.Time) {
	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: eod expire list: %v", err)
		return
	}
	for _, row := range rows {
		o := order.FromRow(row)
		if o.ExpiresAt.IsZero() || now.Before(o.ExpiresAt) {
			continue
		}
		rep.Processed++
		s.transition(ctx, rep, o, order.StatusApproved, order.StatusExpired,
			order.ReasonExpired, events.EventOrderExpired)
	}
}

// rolloverGTC cancels each surviving GTC order and writes an APPROVED
// clone in its place, dated to expire at the next trading day's close.
// Only orders created before today's close roll;
// that keeps a re-run of the pass from rolling its own clones again.
func (s *Scheduler) rolloverGTC(ctx context.Context, rep *RunReport, now, closeTime time.Time) {
	rows, err := s.DB.ListOrdersByStatus(ctx, string(order.StatusApproved))
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: eod rollover list: %v", err)
		return
	}

	for _, row := range rows {
		o := order.FromRow(row)
		if o.TimeInForce != order.GTC || !o.CreatedAt.Before(closeTime) {
			continue
		}
		rep.Processed++

		nextClose := s.Calendar.SessionClose(s.Calendar.NextTradingDay(now))
		clone := o.Clone(uuid.NewString(), now, nextClose)
		err := s.DB.UpdateOrderStatus(ctx, o.ID,
			string(order.StatusApproved), string(order.StatusCancelled), order.ReasonRolledOver, time.Time{})
		if err != nil {
			if errors.Is(err, db.ErrStaleStatus) {
				continue
			}
			rep.Errors++
			log.Printf("scheduler: eod rollover cancel %s: %v", o.ID, err)
			continue
		}
		if err := s.DB.CreateOrder(ctx, clone.Row()); err != nil {
			rep.Errors++
			log.Printf("scheduler: eod rollover clone %s: %v", o.ID, err)
			continue
		}
		rep.Changed++
		s.publish(events.EventOrderRolledOver, clone, string(order.StatusApproved), order.ReasonRolledOver, now)
	}
}

// closeBooks reconciles every portfolio against current prices and writes
// the daily summary for portfolios that saw activity today.
func (s *Scheduler) closeBooks(ctx context.Context, rep *RunReport, now time.Time) {
	prices := s.currentPrices(ctx)
	day := now.UTC().Format("2006-01-02")

	touched, err := s.DB.ListTouchedPortfolioIDs(ctx, day)
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: eod touched portfolios: %v", err)
		touched = nil
	}
	active := make(map[string]bool, len(touched))
	for _, id := range touched {
		active[id] = true
	}

	ids, err := s.DB.ListPortfolioIDs(ctx)
	if err != nil {
		rep.Errors++
		log.Printf("scheduler: eod portfolios: %v", err)
		return
	}
	for _, id := range ids {
		if active[id] {
			if _, created, err := s.Reporter.Generate(ctx, id, now, prices); err != nil {
				rep.Errors++
				log.Printf("scheduler: eod summary %s: %v", id, err)
			} else if created {
				rep.Changed++
			}
			continue
		}
		if _, _, err := s.Ledger.Reconcile(ctx, id, prices); err != nil {
			rep.Errors++
			log.Printf("scheduler: eod reconcile %s: %v", id, err)
		}
	}
}

// checkInput assembles the validator input for an existing order from
// the portfolio's current state and a fresh quote.
func (s *Scheduler) checkInput(ctx context.Context, o order.Order, now time.Time) (risk.Input, error) {
	snap, err := s.Ledger.Snapshot(ctx, o.PortfolioID)
	if err != nil {
		return risk.Input{}, err
	}
	q, err := s.Gateway.GetQuote(ctx, o.Symbol)
	if err != nil {
		return risk.Input{}, err
	}
	return risk.Input{
		PortfolioID: o.PortfolioID,
		Cash:        snap.Cash,
		TotalValue:  snap.TotalValue,
		PositionQty: snap.Positions[o.Symbol].Qty,
		Rules: risk.Rules{
			MaxPositionPercent: snap.MaxPositionPercent,
			RiskTolerance:      snap.RiskTolerance,
			AllowDayTrading:    snap.DayTradingEnabled,
		},
		RefPrice:     q.Price,
		SessionClose: s.Calendar.SessionClose(now),
		Now:          now,
	}, nil
}

func (s *Scheduler) currentPrices(ctx context.Context) map[string]float64 {
	quotes := market.BatchQuotes(ctx, s.Gateway, s.Symbols)
	prices := make(map[string]float64, len(quotes))
	for sym, q := range quotes {
		prices[sym] = q.Price
	}
	return prices
}

// transition applies one guarded status move, tolerating lost races.
func (s *Scheduler) transition(ctx context.Context, rep *RunReport, o order.Order, from, to order.Status, note string, topic events.Event) {
	if !order.CanTransition(from, to) {
		rep.Errors++
		log.Printf("scheduler: %s illegal transition %s -> %s", o.ID, from, to)
		return
	}
	err := s.DB.UpdateOrderStatus(ctx, o.ID, string(from), string(to), note, time.Time{})
	if err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			return
		}
		rep.Errors++
		log.Printf("scheduler: %s %s -> %s: %v", o.ID, from, to, err)
		return
	}
	rep.Changed++
	s.publish(topic, o, string(to), note, rep.At)
}

func (s *Scheduler) publish(topic events.Event, o order.Order, status, reason string, at time.Time) {
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

func (s *Scheduler) announce(rep RunReport) {
	log.Printf("scheduler: %s processed=%d changed=%d skipped=%d errors=%d",
		rep.Pass, rep.Processed, rep.Changed, rep.Skipped, rep.Errors)
	if s.Bus != nil {
		s.Bus.Publish(events.EventLifecycleRun, rep)
	}
}

// Start drives the passes from wall-clock time: the open pass at session
// open, the close and end-of-day passes at session close, and the hourly
// pass on its own interval while the market is open.
func (s *Scheduler) Start(ctx context.Context, hourly time.Duration) {
	if hourly <= 0 {
		hourly = time.Hour
	}
	go func() {
		check := time.NewTicker(15 * time.Second)
		hourlyTick := time.NewTicker(hourly)
		defer check.Stop()
		defer hourlyTick.Stop()

		var openDone, closeDone string
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-hourlyTick.C:
				if s.Calendar.IsOpen(now) {
					s.Hourly(ctx, now)
				}
			case now := <-check.C:
				if !s.Calendar.IsTradingDay(now) {
					continue
				}
				day := now.Format("2006-01-02")
				if openDone != day && !now.Before(s.Calendar.SessionOpen(now)) {
					openDone = day
					s.MarketOpen(ctx, now)
				}
				if closeDone != day && !now.Before(s.Calendar.SessionClose(now)) {
					closeDone = day
					s.MarketClose(ctx, now)
					s.EndOfDay(ctx, now)
				}
			}
		}
	}()
}

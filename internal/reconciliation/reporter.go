package reconciliation

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"execution-core/internal/events"
	"execution-core/internal/order"
	"execution-core/internal/portfolio"
	"execution-core/pkg/db"
)

// Reporter closes the books for a portfolio day: it re-derives the
// portfolio value from current prices, tallies the day's order outcomes
// and trade totals from the store's history, and writes the daily
// summary. Summaries are append-only and at most one per portfolio day;
// re-running a day is a no-op.
type Reporter struct {
	DB     *db.Database
	Ledger *portfolio.Ledger
	Bus    *events.Bus
}

// Generate builds and persists the daily summary for one portfolio.
// It returns the summary and whether this call created it (false means
// the day was already closed).
func (r *Reporter) Generate(ctx context.Context, portfolioID string, day time.Time, prices map[string]float64) (*db.DailySummary, bool, error) {
	dayKey := day.UTC().Format("2006-01-02")

	snap, _, err := r.Ledger.Reconcile(ctx, portfolioID, prices)
	if err != nil {
		return nil, false, fmt.Errorf("reconcile %s: %w", portfolioID, err)
	}

	outcomes, err := r.DB.CountDayOutcomes(ctx, portfolioID, dayKey, order.ReasonRolledOver)
	if err != nil {
		return nil, false, fmt.Errorf("count outcomes %s: %w", portfolioID, err)
	}
	trades, err := r.DB.SumDayTrades(ctx, portfolioID, dayKey)
	if err != nil {
		return nil, false, fmt.Errorf("sum trades %s: %w", portfolioID, err)
	}

	summary := db.DailySummary{
		ID:            uuid.NewString(),
		PortfolioID:   portfolioID,
		Day:           dayKey,
		Executed:      outcomes.Executed,
		Cancelled:     outcomes.Cancelled,
		Expired:       outcomes.Expired,
		Rejected:      outcomes.Rejected,
		RolledOver:    outcomes.RolledOver,
		Volume:        trades.Volume,
		Notional:      trades.Notional,
		Commissions:   trades.Commissions,
		RealizedPnL:   trades.RealizedPnL,
		EndCash:       snap.Cash,
		EndTotalValue: snap.TotalValue,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := r.DB.CreateDailySummary(ctx, summary)
	if err != nil {
		return nil, false, fmt.Errorf("write summary %s: %w", portfolioID, err)
	}
	if !created {
		existing, err := r.DB.GetDailySummary(ctx, portfolioID, dayKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	log.Printf("reconciliation: %s %s executed=%d cancelled=%d expired=%d rolled=%d pnl=%.2f value=%.2f",
		portfolioID, dayKey, summary.Executed, summary.Cancelled, summary.Expired,
		summary.RolledOver, summary.RealizedPnL, summary.EndTotalValue)
	if r.Bus != nil {
		r.Bus.Publish(events.EventSummaryCreated, summary)
	}
	return &summary, true, nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DayOutcomes aggregates one portfolio's order outcomes for a calendar day,
// derived from the append-only status history.
type DayOutcomes struct {
	Executed   int
	Cancelled  int
	Expired    int
	Rejected   int
	RolledOver int
}

// CountDayOutcomes tallies terminal transitions recorded on the given day.
// rolloverNote identifies which cancellations were GTC rollovers.
func (d *Database) CountDayOutcomes(ctx context.Context, portfolioID, day, rolloverNote string) (DayOutcomes, error) {
	var out DayOutcomes
	rows, err := d.DB.QueryContext(ctx, `
		SELECT e.to_status, COALESCE(e.note, ''), COUNT(*)
		FROM order_events e
		JOIN orders o ON o.id = e.order_id
		WHERE o.portfolio_id = ?
		  AND date(e.created_at) = ?
		  AND e.to_status IN ('EXECUTED', 'CANCELLED', 'EXPIRED', 'REJECTED')
		GROUP BY e.to_status, COALESCE(e.note, '')
	`, portfolioID, day)
	if err != nil {
		return out, fmt.Errorf("query day outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status, note string
			n            int
		)
		if err := rows.Scan(&status, &note, &n); err != nil {
			return out, fmt.Errorf("scan day outcome: %w", err)
		}
		switch status {
		case "EXECUTED":
			out.Executed += n
		case "CANCELLED":
			if note == rolloverNote {
				out.RolledOver += n
			} else {
				out.Cancelled += n
			}
		case "EXPIRED":
			out.Expired += n
		case "REJECTED":
			out.Rejected += n
		}
	}
	return out, rows.Err()
}

// DayTradeTotals aggregates the day's committed fills for a portfolio.
type DayTradeTotals struct {
	Volume      float64
	Notional    float64
	Commissions float64
	RealizedPnL float64
}

// SumDayTrades returns trade volume/value totals for the given day.
func (d *Database) SumDayTrades(ctx context.Context, portfolioID, day string) (DayTradeTotals, error) {
	var t DayTradeTotals
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(qty), 0), COALESCE(SUM(qty * price), 0),
		       COALESCE(SUM(commission), 0), COALESCE(SUM(realized_pnl), 0)
		FROM trades
		WHERE portfolio_id = ? AND date(created_at) = ?
	`, portfolioID, day).Scan(&t.Volume, &t.Notional, &t.Commissions, &t.RealizedPnL)
	if err != nil {
		return t, fmt.Errorf("sum day trades: %w", err)
	}
	return t, nil
}

// CreateDailySummary inserts the summary unless one already exists for the
// portfolio+day pair. Returns false when a prior run already wrote it,
// making end-of-day replays no-ops.
func (d *Database) CreateDailySummary(ctx context.Context, s DailySummary) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO daily_summaries (
			id, portfolio_id, day, executed, cancelled, expired, rejected, rolled_over,
			volume, notional, commissions, realized_pnl, end_cash, end_total_value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.PortfolioID, s.Day, s.Executed, s.Cancelled, s.Expired, s.Rejected, s.RolledOver,
		s.Volume, s.Notional, s.Commissions, s.RealizedPnL, s.EndCash, s.EndTotalValue,
	)
	if err != nil {
		return false, fmt.Errorf("insert daily summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// GetDailySummary returns the summary for a portfolio+day, if present.
func (d *Database) GetDailySummary(ctx context.Context, portfolioID, day string) (*DailySummary, error) {
	var s DailySummary
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, portfolio_id, day, executed, cancelled, expired, rejected, rolled_over,
		       volume, notional, commissions, realized_pnl, end_cash, end_total_value, created_at
		FROM daily_summaries
		WHERE portfolio_id = ? AND day = ?
	`, portfolioID, day).Scan(
		&s.ID, &s.PortfolioID, &s.Day, &s.Executed, &s.Cancelled, &s.Expired, &s.Rejected, &s.RolledOver,
		&s.Volume, &s.Notional, &s.Commissions, &s.RealizedPnL, &s.EndCash, &s.EndTotalValue, &s.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query daily summary: %w", err)
	}
	return &s, nil
}

// PruneOrders removes terminal orders older than the cutoff along with
// their history and trades. Daily summaries are never pruned.
func (d *Database) PruneOrders(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	const oldTerminal = `
		SELECT id FROM orders
		WHERE created_at < ?
		  AND status IN ('EXECUTED', 'EXPIRED', 'CANCELLED', 'REJECTED')`

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_events WHERE order_id IN (`+oldTerminal+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune order events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE order_id IN (`+oldTerminal+`)`, cutoff); err != nil {
		return 0, fmt.Errorf("prune trades: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM orders
		WHERE created_at < ?
		  AND status IN ('EXECUTED', 'EXPIRED', 'CANCELLED', 'REJECTED')
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune orders: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, tx.Commit()
}

package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreatePortfolio inserts a portfolio row.
func (d *Database) CreatePortfolio(ctx context.Context, p Portfolio) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO portfolios (id, cash, total_value, day_trading_enabled, risk_tolerance, max_position_pct)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Cash, p.TotalValue, boolToInt(p.DayTradingEnabled), p.RiskTolerance, p.MaxPositionPct)
	if err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	return nil
}

// GetPortfolio returns one portfolio by id.
func (d *Database) GetPortfolio(ctx context.Context, id string) (*Portfolio, error) {
	var (
		p          Portfolio
		dayTrading int
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT id, cash, total_value, COALESCE(day_trading_enabled, 0),
		       risk_tolerance, max_position_pct, created_at, updated_at
		FROM portfolios WHERE id = ?
	`, id).Scan(&p.ID, &p.Cash, &p.TotalValue, &dayTrading, &p.RiskTolerance, &p.MaxPositionPct, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}
	p.DayTradingEnabled = dayTrading == 1
	return &p, nil
}

// ListPortfolioIDs returns every portfolio id.
func (d *Database) ListPortfolioIDs(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT id FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query portfolio ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListTouchedPortfolioIDs returns portfolios with any order activity on the
// given day (YYYY-MM-DD).
func (d *Database) ListTouchedPortfolioIDs(ctx context.Context, day string) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT DISTINCT o.portfolio_id
		FROM orders o
		JOIN order_events e ON e.order_id = o.id
		WHERE date(e.created_at) = ?
		ORDER BY o.portfolio_id
	`, day)
	if err != nil {
		return nil, fmt.Errorf("query touched portfolios: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan portfolio id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePortfolioValue records the reconciled total value (and cash, which
// reconciliation recomputes from committed state).
func (d *Database) UpdatePortfolioValue(ctx context.Context, id string, cash, totalValue float64) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE portfolios SET cash = ?, total_value = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, cash, totalValue, id)
	if err != nil {
		return fmt.Errorf("update portfolio value: %w", err)
	}
	return nil
}

// ListPositions returns all open positions for a portfolio.
func (d *Database) ListPositions(ctx context.Context, portfolioID string) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT portfolio_id, symbol, qty, avg_cost, updated_at
		FROM positions WHERE portfolio_id = ?
		ORDER BY symbol
	`, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.PortfolioID, &p.Symbol, &p.Qty, &p.AvgCost, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

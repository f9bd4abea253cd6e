package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const orderColumns = `
	id, symbol, portfolio_id, action, order_type, qty,
	limit_price, stop_price, take_profit_price, stop_loss_price,
	time_in_force, confidence, risk_level, status,
	COALESCE(reason, ''), COALESCE(parent_order_id, ''), COALESCE(stop_armed, 0),
	created_at, expires_at, executed_at`

// CreateOrder inserts a new order row and its creation event.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, symbol, portfolio_id, action, order_type, qty,
			limit_price, stop_price, take_profit_price, stop_loss_price,
			time_in_force, confidence, risk_level, status, reason,
			parent_order_id, stop_armed, created_at, expires_at, executed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.Symbol, o.PortfolioID, o.Action, o.Type, o.Qty,
		o.LimitPrice, o.StopPrice, o.TakeProfitPrice, o.StopLossPrice,
		o.TimeInForce, o.Confidence, o.RiskLevel, o.Status, o.Reason,
		o.ParentOrderID, boolToInt(o.StopArmed), o.CreatedAt, nullTime(o.ExpiresAt), nullTime(o.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, from_status, to_status, note, created_at)
		VALUES (?, '', ?, ?, ?)
	`, o.ID, o.Status, o.Reason, o.CreatedAt); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	return tx.Commit()
}

// GetOrder returns one order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

// ListOrdersByStatus returns all orders currently in the given status.
func (d *Database) ListOrdersByStatus(ctx context.Context, status string) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_at
	`, status)
	if err != nil {
		return nil, fmt.Errorf("query orders by status: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOrdersByPortfolio returns the most recent orders for a portfolio.
func (d *Database) ListOrdersByPortfolio(ctx context.Context, portfolioID string, limit int) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE portfolio_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("query orders by portfolio: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListOpenChildren returns non-terminal bracket children of a parent order.
func (d *Database) ListOpenChildren(ctx context.Context, parentID string) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE parent_order_id = ? AND status IN ('PENDING', 'APPROVED')
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// UpdateOrderStatus moves an order from one status to another with a
// compare-and-swap guard and appends the history event. Returns
// ErrStaleStatus when the order was no longer in the expected status, which
// callers treat as "someone else got there first".
func (d *Database) UpdateOrderStatus(ctx context.Context, id, from, to, note string, executedAt time.Time) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	if err := casOrderStatus(ctx, tx, id, from, to, note, executedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// SetStopArmed latches the stop-limit trigger so the order works as a limit
// on subsequent ticks. Only meaningful while the order stays APPROVED.
func (d *Database) SetStopArmed(ctx context.Context, id string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET stop_armed = 1 WHERE id = ? AND status = 'APPROVED'
	`, id)
	if err != nil {
		return fmt.Errorf("arm stop: %w", err)
	}
	return nil
}

// Fill describes one atomic execution commit: the status flip, the trade,
// the portfolio cash update, the position change, optional bracket children
// to create and an optional OCO sibling to cancel. Everything applies in a
// single transaction; if the status guard fails nothing is written.
type Fill struct {
	OrderID    string
	ExecutedAt time.Time

	Trade Trade

	PortfolioID string
	NewCash     float64

	// Position outcome: when Position is non-nil it is upserted; when
	// DeleteSymbol is set the position row is removed (fully closed).
	Position     *Position
	DeleteSymbol string

	Children        []Order
	CancelSiblingID string
	CancelNote      string
}

// ApplyFill commits a fill atomically. Returns ErrStaleStatus when the
// order already left APPROVED (lost commit race, double-execution guard).
func (d *Database) ApplyFill(ctx context.Context, f Fill) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fill: %w", err)
	}
	defer tx.Rollback()

	if err := casOrderStatus(ctx, tx, f.OrderID, "APPROVED", "EXECUTED", "", f.ExecutedAt); err != nil {
		return err
	}

	t := f.Trade
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, portfolio_id, symbol, action, price, qty, commission, realized_pnl, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.PortfolioID, t.Symbol, t.Action, t.Price, t.Qty, t.Commission, t.RealizedPnL, t.CreatedAt); err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE portfolios SET cash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, f.NewCash, f.PortfolioID); err != nil {
		return fmt.Errorf("update portfolio cash: %w", err)
	}

	switch {
	case f.Position != nil:
		p := f.Position
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (portfolio_id, symbol, qty, avg_cost, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(portfolio_id, symbol) DO UPDATE SET
				qty = excluded.qty,
				avg_cost = excluded.avg_cost,
				updated_at = CURRENT_TIMESTAMP
		`, p.PortfolioID, p.Symbol, p.Qty, p.AvgCost); err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}
	case f.DeleteSymbol != "":
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM positions WHERE portfolio_id = ? AND symbol = ?
		`, f.PortfolioID, f.DeleteSymbol); err != nil {
			return fmt.Errorf("delete position: %w", err)
		}
	}

	for _, c := range f.Children {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, symbol, portfolio_id, action, order_type, qty,
				limit_price, stop_price, take_profit_price, stop_loss_price,
				time_in_force, confidence, risk_level, status, reason,
				parent_order_id, stop_armed, created_at, expires_at, executed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			c.ID, c.Symbol, c.PortfolioID, c.Action, c.Type, c.Qty,
			c.LimitPrice, c.StopPrice, c.TakeProfitPrice, c.StopLossPrice,
			c.TimeInForce, c.Confidence, c.RiskLevel, c.Status, c.Reason,
			c.ParentOrderID, boolToInt(c.StopArmed), c.CreatedAt, nullTime(c.ExpiresAt), nil,
		); err != nil {
			return fmt.Errorf("insert child order: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_events (order_id, from_status, to_status, note, created_at)
			VALUES (?, '', ?, ?, ?)
		`, c.ID, c.Status, c.Reason, c.CreatedAt); err != nil {
			return fmt.Errorf("insert child event: %w", err)
		}
	}

	if f.CancelSiblingID != "" {
		// Sibling may already be terminal (independent cancel won the
		// race); treat that as done rather than failing the fill.
		if err := casOrderStatus(ctx, tx, f.CancelSiblingID, "APPROVED", "CANCELLED", f.CancelNote, time.Time{}); err != nil && err != ErrStaleStatus {
			return err
		}
	}

	return tx.Commit()
}

// casOrderStatus applies the guarded status flip plus history event inside
// an existing transaction.
func casOrderStatus(ctx context.Context, tx *sql.Tx, id, from, to, note string, executedAt time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, reason = CASE WHEN ? != '' THEN ? ELSE reason END,
		    executed_at = COALESCE(?, executed_at)
		WHERE id = ? AND status = ?
	`, to, note, note, nullTime(executedAt), id, from)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrStaleStatus
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_events (order_id, from_status, to_status, note)
		VALUES (?, ?, ?, ?)
	`, id, from, to, note); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// ListOrderEvents returns an order's status history, oldest first.
func (d *Database) ListOrderEvents(ctx context.Context, orderID string) ([]OrderEvent, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, from_status, to_status, COALESCE(note, ''), created_at
		FROM order_events WHERE order_id = ? ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListTradesByPortfolio returns recent trades for a portfolio.
func (d *Database) ListTradesByPortfolio(ctx context.Context, portfolioID string, limit int) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, portfolio_id, symbol, action, price, qty,
		       COALESCE(commission, 0), COALESCE(realized_pnl, 0), created_at
		FROM trades
		WHERE portfolio_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, portfolioID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.PortfolioID, &t.Symbol, &t.Action, &t.Price, &t.Qty, &t.Commission, &t.RealizedPnL, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// DayActivity reports whether the portfolio already bought or sold the
// symbol on the given day (YYYY-MM-DD), judged from committed trades.
func (d *Database) DayActivity(ctx context.Context, portfolioID, symbol, day string) (bought, sold bool, err error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT action, COUNT(*) FROM trades
		WHERE portfolio_id = ? AND symbol = ? AND date(created_at) = ?
		GROUP BY action
	`, portfolioID, symbol, day)
	if err != nil {
		return false, false, fmt.Errorf("day activity: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return false, false, fmt.Errorf("day activity: %w", err)
		}
		switch action {
		case "BUY":
			bought = n > 0
		case "SELL":
			sold = n > 0
		}
	}
	return bought, sold, rows.Err()
}

// CountTrades returns the number of trade rows for an order.
func (d *Database) CountTrades(ctx context.Context, orderID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE order_id = ?`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*Order, error) {
	var (
		o          Order
		stopArmed  int
		expiresAt  sql.NullTime
		executedAt sql.NullTime
	)
	err := r.Scan(
		&o.ID, &o.Symbol, &o.PortfolioID, &o.Action, &o.Type, &o.Qty,
		&o.LimitPrice, &o.StopPrice, &o.TakeProfitPrice, &o.StopLossPrice,
		&o.TimeInForce, &o.Confidence, &o.RiskLevel, &o.Status,
		&o.Reason, &o.ParentOrderID, &stopArmed,
		&o.CreatedAt, &expiresAt, &executedAt,
	)
	if err != nil {
		return nil, err
	}
	o.StopArmed = stopArmed == 1
	if expiresAt.Valid {
		o.ExpiresAt = expiresAt.Time
	}
	if executedAt.Valid {
		o.ExecutedAt = executedAt.Time
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

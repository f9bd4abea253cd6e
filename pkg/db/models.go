package db

import "time"

// Order is an order row. Status values and transition rules live in the
// order package; the store treats them as opaque strings guarded by
// compare-and-swap updates.
type Order struct {
	ID              string
	Symbol          string
	PortfolioID     string
	Action          string
	Type            string
	Qty             float64
	LimitPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	StopLossPrice   float64
	TimeInForce     string
	Confidence      float64
	RiskLevel       string
	Status          string
	Reason          string
	ParentOrderID   string
	StopArmed       bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ExecutedAt      time.Time
}

// OrderEvent is one append-only entry in an order's status history.
type OrderEvent struct {
	ID         int64
	OrderID    string
	FromStatus string
	ToStatus   string
	Note       string
	CreatedAt  time.Time
}

// Trade is a committed fill.
type Trade struct {
	ID          string
	OrderID     string
	PortfolioID string
	Symbol      string
	Action      string
	Price       float64
	Qty         float64
	Commission  float64
	RealizedPnL float64
	CreatedAt   time.Time
}

// Portfolio is the authoritative cash/value row per portfolio.
type Portfolio struct {
	ID                string
	Cash              float64
	TotalValue        float64
	DayTradingEnabled bool
	RiskTolerance     string
	MaxPositionPct    float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Position is a held quantity with volume-weighted average cost.
type Position struct {
	PortfolioID string
	Symbol      string
	Qty         float64
	AvgCost     float64
	UpdatedAt   time.Time
}

// DailySummary is the append-only per-portfolio end-of-day record.
type DailySummary struct {
	ID            string
	PortfolioID   string
	Day           string // YYYY-MM-DD
	Executed      int
	Cancelled     int
	Expired       int
	Rejected      int
	RolledOver    int
	Volume        float64
	Notional      float64
	Commissions   float64
	RealizedPnL   float64
	EndCash       float64
	EndTotalValue float64
	CreatedAt     time.Time
}

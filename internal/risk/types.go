package risk

import (
	"time"

	"execution-core/internal/order"
)

// Recommendation is a proposed trade coming out of a strategy. The
// validator turns it into an order whose status is already decided.
type Recommendation struct {
	Symbol     string
	Action     order.Action
	Qty        float64
	Confidence float64
	RiskLevel  order.RiskLevel

	// Optional pricing hints. Zero means not suggested.
	SuggestedLimit  float64
	SuggestedStop   float64
	SuggestedTarget float64

	TimeInForce order.TimeInForce
}

// Rules are the portfolio-level constraints an order is checked against.
type Rules struct {
	MaxPositionPercent float64
	RiskTolerance      order.RiskLevel
	AllowDayTrading    bool
}

// Activity records whether the portfolio already traded this symbol today.
type Activity struct {
	BoughtToday bool
	SoldToday   bool
}

// Input bundles everything Assign needs so the assignment itself stays
// deterministic and side-effect free.
type Input struct {
	Rec          Recommendation
	PortfolioID  string
	Cash         float64
	TotalValue   float64
	PositionQty  float64 // current holding of Rec.Symbol
	Rules        Rules
	RefPrice     float64 // last known market price for Rec.Symbol
	Activity     Activity
	SessionClose time.Time // close of the current trading session
	Now          time.Time
}

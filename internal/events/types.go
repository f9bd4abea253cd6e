package events

import "time"

// Event enumerates high-level topics inside the execution core.
type Event string

const (
	EventPriceTick       Event = "price_tick"
	EventOrderCreated    Event = "order.created"
	EventOrderApproved   Event = "order.approved"
	EventOrderRejected   Event = "order.rejected"
	EventOrderExecuted   Event = "order.executed"
	EventOrderCancelled  Event = "order.cancelled"
	EventOrderExpired    Event = "order.expired"
	EventOrderRolledOver Event = "order.rolled_over"
	EventSummaryCreated  Event = "summary.created"
	EventLifecycleRun    Event = "lifecycle.run"
	EventAlert           Event = "alert"
)

// Tick is the payload published on EventPriceTick.
type Tick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// OrderUpdate is the payload published on order lifecycle topics.
type OrderUpdate struct {
	OrderID     string
	PortfolioID string
	Symbol      string
	Status      string
	Reason      string
	At          time.Time
}

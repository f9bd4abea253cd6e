package order

import (
	"fmt"
	"time"
)

// Action is the trade direction of an order.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Type distinguishes how an order becomes executable.
type Type string

const (
	Market    Type = "MARKET"
	Limit     Type = "LIMIT"
	StopLimit Type = "STOP_LIMIT"
	Bracket   Type = "BRACKET"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusExecuted  Status = "EXECUTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// TimeInForce controls how long an unfilled order stays live.
type TimeInForce string

const (
	Day TimeInForce = "DAY"
	GTC TimeInForce = "GTC"
)

// RiskLevel classifies an order for tolerance matching.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Order represents an order through its full lifecycle. ID, Symbol and
// PortfolioID are immutable after creation; Status only moves along the
// transition graph below.
type Order struct {
	ID          string
	Symbol      string
	PortfolioID string

	Action          Action
	Type            Type
	Qty             float64
	LimitPrice      float64
	StopPrice       float64
	TakeProfitPrice float64
	StopLossPrice   float64
	TimeInForce     TimeInForce
	Confidence      float64
	RiskLevel       RiskLevel

	Status        Status
	Reason        string // rejection or cancellation reason
	ParentOrderID string // set on bracket children and rollover clones
	StopArmed     bool   // stop-limit: stop breached, now working as a limit

	CreatedAt  time.Time
	ExpiresAt  time.Time
	ExecutedAt time.Time
}

// transitions is the only legal status graph. Terminal states have no edges.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusExecuted, StatusExpired, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status absorbs all further events.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Terminal reports whether the order can no longer change state.
func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}

// Evaluate applies the execution predicate for the observed price.
// fill reports that the order may execute at this tick; arm reports that a
// stop-limit breached its stop and starts working as a limit on subsequent
// ticks (the arming tick itself never fills).
func (o *Order) Evaluate(price float64) (fill bool, arm bool) {
	switch o.Type {
	case Market:
		return true, false
	case Limit:
		return limitTriggered(o.Action, price, o.LimitPrice), false
	case StopLimit:
		if !o.StopArmed {
			if stopBreached(o.Action, price, o.StopPrice) {
				return false, true
			}
			return false, false
		}
		return limitTriggered(o.Action, price, o.LimitPrice), false
	case Bracket:
		// A bracket parent executes like a limit when a limit price is set,
		// otherwise like a market order; its children are synthesized after
		// the fill.
		if o.LimitPrice > 0 {
			return limitTriggered(o.Action, price, o.LimitPrice), false
		}
		return true, false
	}
	return false, false
}

func limitTriggered(a Action, price, limit float64) bool {
	if a == Buy {
		return price <= limit
	}
	return price >= limit
}

// stopBreached reports the stop trigger in the protective direction: a sell
// stop fires when price falls to or through the stop, a buy stop when price
// rises to or through it.
func stopBreached(a Action, price, stop float64) bool {
	if a == Sell {
		return price <= stop
	}
	return price >= stop
}

// FillPrice returns the price a triggered order fills at. Limit-style
// orders fill at the observed price, which is at the limit or better once
// the predicate holds.
func (o *Order) FillPrice(observed float64) float64 {
	return observed
}

// Validate checks structural invariants before the order is persisted.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if o.PortfolioID == "" {
		return fmt.Errorf("%w: portfolio id is required", ErrValidation)
	}
	if o.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if o.Action != Buy && o.Action != Sell {
		return fmt.Errorf("%w: unknown action %q", ErrValidation, o.Action)
	}
	if o.TimeInForce != Day && o.TimeInForce != GTC {
		return fmt.Errorf("%w: unknown time in force %q", ErrValidation, o.TimeInForce)
	}
	switch o.Type {
	case Market:
		// No price fields required.
	case Limit:
		if o.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order requires a limit price", ErrValidation)
		}
	case StopLimit:
		if o.StopPrice <= 0 || o.LimitPrice <= 0 {
			return fmt.Errorf("%w: stop-limit order requires stop and limit prices", ErrValidation)
		}
	case Bracket:
		if o.StopLossPrice <= 0 || o.TakeProfitPrice <= 0 {
			return fmt.Errorf("%w: bracket order requires stop-loss and take-profit prices", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrValidation, o.Type)
	}
	return nil
}

// Notional returns the order value at the given reference price (limit
// price when present, otherwise the supplied price).
func (o *Order) Notional(price float64) float64 {
	ref := price
	if o.LimitPrice > 0 {
		ref = o.LimitPrice
	}
	return o.Qty * ref
}

// Clone returns a rollover copy of a GTC order: a fresh identity dated for
// the next trading day, linked to the original through ParentOrderID. A
// bracket leg keeps its original parent so the OCO pairing survives the
// roll. The original is cancelled separately; it is never mutated in place.
func (o *Order) Clone(id string, now, nextExpiry time.Time) Order {
	c := *o
	c.ID = id
	if o.ParentOrderID == "" {
		c.ParentOrderID = o.ID
	}
	c.Status = StatusApproved
	c.Reason = ""
	c.StopArmed = o.StopArmed
	c.CreatedAt = now
	c.ExpiresAt = nextExpiry
	c.ExecutedAt = time.Time{}
	return c
}

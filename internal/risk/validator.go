package risk

import (
	"fmt"

	"github.com/google/uuid"

	"execution-core/internal/order"
)

// Validator decides whether a recommendation becomes an APPROVED order
// or a REJECTED one. Exactly one of the two, never a pending limbo.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// riskRank orders risk levels so tolerances can be compared.
func riskRank(l order.RiskLevel) int {
	switch l {
	case order.RiskLow:
		return 0
	case order.RiskMedium:
		return 1
	case order.RiskHigh:
		return 2
	}
	return 1
}

// entryPrice is the price all sizing checks are made at.
func entryPrice(rec Recommendation, refPrice float64) float64 {
	if rec.SuggestedLimit > 0 {
		return rec.SuggestedLimit
	}
	return refPrice
}

// Assign runs the ordered constraint checks and returns the resulting
// order. The first failing check wins and sets the rejection reason.
// Assign never touches the ledger or the store.
func (v *Validator) Assign(in Input) (order.Order, error) {
	rec := in.Rec
	entry := entryPrice(rec, in.RefPrice)
	if entry <= 0 {
		return order.Order{}, fmt.Errorf("assign %s: no reference price: %w", rec.Symbol, order.ErrValidation)
	}
	if rec.Qty <= 0 {
		return order.Order{}, fmt.Errorf("assign %s: quantity must be positive: %w", rec.Symbol, order.ErrValidation)
	}

	o := order.Order{
		ID:              uuid.NewString(),
		Symbol:          rec.Symbol,
		PortfolioID:     in.PortfolioID,
		Action:          rec.Action,
		Qty:             rec.Qty,
		LimitPrice:      rec.SuggestedLimit,
		TakeProfitPrice: rec.SuggestedTarget,
		StopLossPrice:   rec.SuggestedStop,
		TimeInForce:     rec.TimeInForce,
		Confidence:      rec.Confidence,
		RiskLevel:       rec.RiskLevel,
		CreatedAt:       in.Now,
	}
	if o.TimeInForce == "" {
		o.TimeInForce = order.Day
	}
	if o.RiskLevel == "" {
		o.RiskLevel = order.RiskMedium
	}
	switch {
	case rec.SuggestedStop > 0 && rec.SuggestedTarget > 0:
		o.Type = order.Bracket
	case rec.SuggestedLimit > 0:
		o.Type = order.Limit
	default:
		o.Type = order.Market
	}
	if o.TimeInForce == order.Day {
		o.ExpiresAt = in.SessionClose
	}

	if reason := v.check(in, entry); reason != "" {
		o.Status = order.StatusRejected
		o.Reason = reason
		return o, nil
	}

	o.Status = order.StatusApproved
	return o, nil
}

// check runs the constraint chain and returns the first failure, or ""
// when the order passes everything.
func (v *Validator) check(in Input, entry float64) string {
	rec := in.Rec
	notional := entry * rec.Qty

	// Sufficiency first: an order the portfolio cannot settle is dead
	// regardless of any softer constraint.
	switch rec.Action {
	case order.Buy:
		if notional > in.Cash {
			return order.ReasonInsufficientCash
		}
	case order.Sell:
		if rec.Qty > in.PositionQty {
			return order.ReasonInsufficientShares
		}
	}

	// Concentration only grows on the buy side.
	if rec.Action == order.Buy && in.Rules.MaxPositionPercent > 0 {
		base := in.TotalValue
		if base <= 0 {
			base = in.Cash
		}
		if base > 0 {
			resulting := (in.PositionQty*entry + notional) / base
			if resulting > in.Rules.MaxPositionPercent {
				return order.ReasonMaxPosition
			}
		}
	}

	if riskRank(rec.RiskLevel) > riskRank(in.Rules.RiskTolerance) {
		return order.ReasonRiskTolerance
	}

	if !in.Rules.AllowDayTrading {
		roundTrip := (rec.Action == order.Sell && in.Activity.BoughtToday) ||
			(rec.Action == order.Buy && in.Activity.SoldToday)
		if roundTrip {
			return order.ReasonDayTrading
		}
	}
	return ""
}

// Recheck re-runs the sizing and concentration constraints for an order
// that is already APPROVED but has not executed yet. It is used by the
// hourly maintenance pass; a false result carries the reason the order
// should now be cancelled with.
func (v *Validator) Recheck(o order.Order, in Input) (bool, string) {
	entry := entryPrice(Recommendation{SuggestedLimit: o.LimitPrice}, in.RefPrice)
	if entry <= 0 {
		// No price, nothing to judge against. Leave the order alone.
		return true, ""
	}
	rec := Recommendation{
		Symbol:    o.Symbol,
		Action:    o.Action,
		Qty:       o.Qty,
		RiskLevel: o.RiskLevel,
	}
	checkIn := in
	checkIn.Rec = rec
	// Day-trading legality was judged at creation time.
	checkIn.Rules.AllowDayTrading = true
	if reason := v.check(checkIn, entry); reason != "" {
		return false, reason
	}
	return true, ""
}

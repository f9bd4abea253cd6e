package order

import "execution-core/pkg/db"

// FromRow rebuilds a domain order from its stored row.
func FromRow(r db.Order) Order {
	return Order{
		ID:              r.ID,
		Symbol:          r.Symbol,
		PortfolioID:     r.PortfolioID,
		Action:          Action(r.Action),
		Type:            Type(r.Type),
		Qty:             r.Qty,
		LimitPrice:      r.LimitPrice,
		StopPrice:       r.StopPrice,
		TakeProfitPrice: r.TakeProfitPrice,
		StopLossPrice:   r.StopLossPrice,
		TimeInForce:     TimeInForce(r.TimeInForce),
		Confidence:      r.Confidence,
		RiskLevel:       RiskLevel(r.RiskLevel),
		Status:          Status(r.Status),
		Reason:          r.Reason,
		ParentOrderID:   r.ParentOrderID,
		StopArmed:       r.StopArmed,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		ExecutedAt:      r.ExecutedAt,
	}
}

// Row flattens a domain order into its stored form.
func (o *Order) Row() db.Order {
	return db.Order{
		ID:              o.ID,
		Symbol:          o.Symbol,
		PortfolioID:     o.PortfolioID,
		Action:          string(o.Action),
		Type:            string(o.Type),
		Qty:             o.Qty,
		LimitPrice:      o.LimitPrice,
		StopPrice:       o.StopPrice,
		TakeProfitPrice: o.TakeProfitPrice,
		StopLossPrice:   o.StopLossPrice,
		TimeInForce:     string(o.TimeInForce),
		Confidence:      o.Confidence,
		RiskLevel:       string(o.RiskLevel),
		Status:          string(o.Status),
		Reason:          o.Reason,
		ParentOrderID:   o.ParentOrderID,
		StopArmed:       o.StopArmed,
		CreatedAt:       o.CreatedAt,
		ExpiresAt:       o.ExpiresAt,
		ExecutedAt:      o.ExecutedAt,
	}
}

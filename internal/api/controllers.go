package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

type createOrderRequest struct {
	PortfolioID string  `json:"portfolio_id"`
	Symbol      string  `json:"symbol" binding:"required"`
	Action      string  `json:"action" binding:"required"`
	Qty         float64 `json:"qty" binding:"required"`
	LimitPrice  float64 `json:"limit_price"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit  float64 `json:"take_profit"`
	TimeInForce string  `json:"time_in_force"`
	Confidence  float64 `json:"confidence"`
	RiskLevel   string  `json:"risk_level"`
}

// orderView is the wire shape of an order.
type orderView struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	PortfolioID     string  `json:"portfolio_id"`
	Action          string  `json:"action"`
	Type            string  `json:"type"`
	Qty             float64 `json:"qty"`
	LimitPrice      float64 `json:"limit_price,omitempty"`
	StopPrice       float64 `json:"stop_price,omitempty"`
	TakeProfitPrice float64 `json:"take_profit_price,omitempty"`
	StopLossPrice   float64 `json:"stop_loss_price,omitempty"`
	TimeInForce     string  `json:"time_in_force"`
	Confidence      float64 `json:"confidence,omitempty"`
	RiskLevel       string  `json:"risk_level"`
	Status          string  `json:"status"`
	Reason          string  `json:"reason,omitempty"`
	ParentOrderID   string  `json:"parent_order_id,omitempty"`
	StopArmed       bool    `json:"stop_armed,omitempty"`
	CreatedAt       string  `json:"created_at"`
	ExpiresAt       string  `json:"expires_at,omitempty"`
	ExecutedAt      string  `json:"executed_at,omitempty"`
}

func newOrderView(o order.Order) orderView {
	v := orderView{
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
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !o.ExpiresAt.IsZero() {
		v.ExpiresAt = o.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if !o.ExecutedAt.IsZero() {
		v.ExecutedAt = o.ExecutedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// createOrder accepts a recommendation and runs it through assignment.
// While the market is closed the order parks as PENDING and the next
// open pass decides it.
func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pid := req.PortfolioID
	if pid == "" {
		pid = s.Meta.DefaultPortfolio
	}

	ctx := c.Request.Context()
	now := time.Now()

	snap, err := s.Ledger.Snapshot(ctx, pid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown portfolio " + pid})
		return
	}

	refPrice := 0.0
	if q, err := s.Gateway.GetQuote(ctx, req.Symbol); err == nil {
		refPrice = q.Price
	} else if req.LimitPrice <= 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no quote for " + req.Symbol + ", retry later"})
		return
	}

	day := now.UTC().Format("2006-01-02")
	bought, sold, err := s.DB.DayActivity(ctx, pid, req.Symbol, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	in := risk.Input{
		Rec: risk.Recommendation{
			Symbol:          req.Symbol,
			Action:          order.Action(req.Action),
			Qty:             req.Qty,
			Confidence:      req.Confidence,
			RiskLevel:       order.RiskLevel(req.RiskLevel),
			SuggestedLimit:  req.LimitPrice,
			SuggestedStop:   req.StopLoss,
			SuggestedTarget: req.TakeProfit,
			TimeInForce:     order.TimeInForce(req.TimeInForce),
		},
		PortfolioID: pid,
		Cash:        snap.Cash,
		TotalValue:  snap.TotalValue,
		PositionQty: snap.Positions[req.Symbol].Qty,
		Rules: risk.Rules{
			MaxPositionPercent: snap.MaxPositionPercent,
			RiskTolerance:      snap.RiskTolerance,
			AllowDayTrading:    snap.DayTradingEnabled,
		},
		RefPrice:     refPrice,
		Activity:     risk.Activity{BoughtToday: bought, SoldToday: sold},
		SessionClose: s.Calendar.SessionClose(now),
		Now:          now,
	}

	o, err := s.Validator.Assign(in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := o.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Every order enters the store as PENDING so its full decision
	// history lands in the event log.
	row := o.Row()
	row.Status = string(order.StatusPending)
	if err := s.DB.CreateOrder(ctx, row); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.publish(events.EventOrderCreated, o, string(order.StatusPending), "", now)

	if !s.Calendar.IsOpen(now) {
		o.Status = order.StatusPending
		o.Reason = ""
		c.JSON(http.StatusAccepted, newOrderView(o))
		return
	}

	if err := s.DB.UpdateOrderStatus(ctx, o.ID,
		string(order.StatusPending), string(o.Status), o.Reason, time.Time{}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	topic := events.EventOrderApproved
	if o.Status == order.StatusRejected {
		topic = events.EventOrderRejected
	}
	s.publish(topic, o, string(o.Status), o.Reason, now)

	c.JSON(http.StatusCreated, newOrderView(o))
}

func (s *Server) listOrders(c *gin.Context) {
	ctx := c.Request.Context()
	pid := c.DefaultQuery("portfolio_id", s.Meta.DefaultPortfolio)
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	var rows []db.Order
	var err error
	if status != "" {
		rows, err = s.DB.ListOrdersByStatus(ctx, status)
	} else {
		rows, err = s.DB.ListOrdersByPortfolio(ctx, pid, limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	views := make([]orderView, 0, len(rows))
	for _, row := range rows {
		if status != "" && row.PortfolioID != pid {
			continue
		}
		views = append(views, newOrderView(order.FromRow(row)))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views, "count": len(views)})
}

func (s *Server) getOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	row, err := s.DB.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown order " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	history, err := s.DB.ListOrderEvents(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	type eventView struct {
		From string `json:"from"`
		To   string `json:"to"`
		Note string `json:"note,omitempty"`
		At   string `json:"at"`
	}
	evs := make([]eventView, 0, len(history))
	for _, e := range history {
		evs = append(evs, eventView{
			From: e.FromStatus,
			To:   e.ToStatus,
			Note: e.Note,
			At:   e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"order": newOrderView(order.FromRow(*row)), "history": evs})
}

// cancelOrder retires a live order at the user's request. Orders that
// already reached a terminal state conflict rather than silently succeed.
func (s *Server) cancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	row, err := s.DB.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown order " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = s.DB.UpdateOrderStatus(ctx, id,
		string(order.StatusApproved), string(order.StatusCancelled), order.ReasonUserCancel, time.Time{})
	if err != nil {
		if errors.Is(err, db.ErrStaleStatus) {
			c.JSON(http.StatusConflict, gin.H{"error": "order " + id + " is not cancellable", "status": row.Status})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	o := order.FromRow(*row)
	o.Status = order.StatusCancelled
	o.Reason = order.ReasonUserCancel
	s.publish(events.EventOrderCancelled, o, string(o.Status), o.Reason, time.Now())
	c.JSON(http.StatusOK, newOrderView(o))
}

func (s *Server) getPortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	snap, err := s.Ledger.Snapshot(ctx, id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown portfolio " + id})
		return
	}

	symbols := make([]string, 0, len(snap.Positions))
	for sym := range snap.Positions {
		symbols = append(symbols, sym)
	}
	quotes := market.BatchQuotes(ctx, s.Gateway, symbols)

	type positionView struct {
		Symbol      string  `json:"symbol"`
		Qty         float64 `json:"qty"`
		AvgCost     float64 `json:"avg_cost"`
		Price       float64 `json:"price,omitempty"`
		MarketValue float64 `json:"market_value"`
		Unrealized  float64 `json:"unrealized_pnl"`
	}
	positions := make([]positionView, 0, len(snap.Positions))
	marketValue := 0.0
	for sym, p := range snap.Positions {
		price := p.AvgCost
		if q, ok := quotes[sym]; ok && q.Price > 0 {
			price = q.Price
		}
		value := p.Qty * price
		marketValue += value
		positions = append(positions, positionView{
			Symbol:      sym,
			Qty:         p.Qty,
			AvgCost:     p.AvgCost,
			Price:       price,
			MarketValue: value,
			Unrealized:  (price - p.AvgCost) * p.Qty,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"id":                   snap.ID,
		"cash":                 snap.Cash,
		"market_value":         marketValue,
		"total_value":          snap.Cash + marketValue,
		"risk_tolerance":       snap.RiskTolerance,
		"max_position_percent": snap.MaxPositionPercent,
		"day_trading_enabled":  snap.DayTradingEnabled,
		"positions":            positions,
	})
}

func (s *Server) getTrades(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	trades, err := s.DB.ListTradesByPortfolio(ctx, id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) getSummary(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	day := c.DefaultQuery("day", time.Now().UTC().Format("2006-01-02"))

	summary, err := s.DB.GetDailySummary(ctx, id, day)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no summary for " + id + " on " + day})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"version":       s.Meta.Version,
		"symbols":       s.Meta.Symbols,
		"market_open":   s.Calendar.IsOpen(now),
		"session_open":  s.Calendar.SessionOpen(now).Format(time.RFC3339),
		"session_close": s.Calendar.SessionClose(now).Format(time.RFC3339),
		"time":          now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) runOpen(c *gin.Context) {
	c.JSON(http.StatusOK, s.Scheduler.MarketOpen(c.Request.Context(), time.Now()))
}

func (s *Server) runClose(c *gin.Context) {
	c.JSON(http.StatusOK, s.Scheduler.MarketClose(c.Request.Context(), time.Now()))
}

func (s *Server) runEndOfDay(c *gin.Context) {
	c.JSON(http.StatusOK, s.Scheduler.EndOfDay(c.Request.Context(), time.Now()))
}

func (s *Server) runHourly(c *gin.Context) {
	c.JSON(http.StatusOK, s.Scheduler.Hourly(c.Request.Context(), time.Now()))
}

func (s *Server) publish(topic events.Event, o order.Order, status, reason string, at time.Time) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(topic, events.OrderUpdate{
		OrderID:     o.ID,
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Status:      status,
		Reason:      reason,
		At:          at,
	})
}

package order

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusExecuted, false},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusExpired, true},
		{StatusApproved, StatusCancelled, true},
		{StatusApproved, StatusPending, false},
		{StatusExecuted, StatusCancelled, false},
		{StatusRejected, StatusApproved, false},
		{StatusExpired, StatusApproved, false},
		{StatusCancelled, StatusExecuted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusExecuted, StatusExpired, StatusCancelled, StatusRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusApproved} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestEvaluateLimit(t *testing.T) {
	cases := []struct {
		name   string
		action Action
		limit  float64
		price  float64
		fill   bool
	}{
		{"buy below limit fills", Buy, 150, 149, true},
		{"buy at limit fills", Buy, 150, 150, true},
		{"buy above limit waits", Buy, 150, 151, false},
		{"sell above limit fills", Sell, 150, 151, true},
		{"sell at limit fills", Sell, 150, 150, true},
		{"sell below limit waits", Sell, 150, 149, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := Order{Action: tc.action, Type: Limit, LimitPrice: tc.limit}
			fill, arm := o.Evaluate(tc.price)
			if fill != tc.fill || arm {
				t.Errorf("Evaluate(%v) = (%v, %v), want (%v, false)", tc.price, fill, arm, tc.fill)
			}
		})
	}
}

func TestEvaluateMarket(t *testing.T) {
	o := Order{Action: Buy, Type: Market}
	fill, arm := o.Evaluate(42)
	if !fill || arm {
		t.Fatalf("market order should fill at any price, got (%v, %v)", fill, arm)
	}
}

func TestEvaluateStopLimitArmsBeforeFilling(t *testing.T) {
	o := Order{Action: Sell, Type: StopLimit, StopPrice: 140, LimitPrice: 140}

	// Above the stop nothing happens.
	if fill, arm := o.Evaluate(145); fill || arm {
		t.Fatalf("price above stop: got (%v, %v), want (false, false)", fill, arm)
	}

	// Breaching the stop arms but never fills on the same tick.
	fill, arm := o.Evaluate(139)
	if fill || !arm {
		t.Fatalf("breach tick: got (%v, %v), want (false, true)", fill, arm)
	}
	o.StopArmed = true

	// Armed, it works as a plain limit.
	if fill, _ := o.Evaluate(139); fill {
		t.Fatal("armed sell below limit should not fill")
	}
	if fill, _ := o.Evaluate(140); !fill {
		t.Fatal("armed sell at limit should fill")
	}
}

func TestEvaluateBuyStopLimit(t *testing.T) {
	o := Order{Action: Buy, Type: StopLimit, StopPrice: 160, LimitPrice: 161}

	if _, arm := o.Evaluate(159); arm {
		t.Fatal("buy stop should not arm below the stop")
	}
	if _, arm := o.Evaluate(160); !arm {
		t.Fatal("buy stop should arm at the stop")
	}
	o.StopArmed = true
	if fill, _ := o.Evaluate(160.5); !fill {
		t.Fatal("armed buy at or below limit should fill")
	}
}

func TestValidate(t *testing.T) {
	base := Order{
		Symbol:      "AAPL",
		PortfolioID: "p1",
		Action:      Buy,
		Type:        Market,
		Qty:         10,
		TimeInForce: Day,
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("valid market order rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Order)
	}{
		{"empty symbol", func(o *Order) { o.Symbol = "" }},
		{"zero qty", func(o *Order) { o.Qty = 0 }},
		{"negative qty", func(o *Order) { o.Qty = -1 }},
		{"bad action", func(o *Order) { o.Action = "HOLD" }},
		{"limit without price", func(o *Order) { o.Type = Limit }},
		{"stop-limit without stop", func(o *Order) { o.Type = StopLimit; o.LimitPrice = 100 }},
		{"bracket without exits", func(o *Order) { o.Type = Bracket }},
		{"bad tif", func(o *Order) { o.TimeInForce = "IOC" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := base
			tc.mutate(&o)
			err := o.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error %v should wrap ErrValidation", err)
			}
		})
	}
}

func TestCloneRollsIdentityForward(t *testing.T) {
	now := time.Now()
	o := Order{
		ID:          "orig",
		Symbol:      "MSFT",
		Action:      Buy,
		Type:        Limit,
		Qty:         5,
		LimitPrice:  300,
		TimeInForce: GTC,
		Status:      StatusApproved,
		Reason:      "",
		CreatedAt:   now.Add(-24 * time.Hour),
		ExecutedAt:  time.Time{},
	}

	c := o.Clone("clone", now, time.Time{})
	if c.ID != "clone" || c.ParentOrderID != "orig" {
		t.Fatalf("clone identity wrong: id=%s parent=%s", c.ID, c.ParentOrderID)
	}
	if c.Status != StatusApproved || !c.CreatedAt.Equal(now) {
		t.Fatalf("clone should be APPROVED and dated now, got %s at %v", c.Status, c.CreatedAt)
	}
	if o.ID != "orig" || o.CreatedAt.Equal(now) {
		t.Fatal("original order must not be mutated")
	}
}

func TestCloneKeepsBracketParent(t *testing.T) {
	o := Order{ID: "leg1", ParentOrderID: "entry", TimeInForce: GTC, Status: StatusApproved}
	c := o.Clone("leg1b", time.Now(), time.Time{})
	if c.ParentOrderID != "entry" {
		t.Fatalf("rolled bracket leg should keep parent %q, got %q", "entry", c.ParentOrderID)
	}
}

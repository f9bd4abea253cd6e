package market

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"execution-core/internal/events"
)

// MockFeed generates synthetic random-walk prices for local development and
// tests. It doubles as a Gateway so the execution monitor can query the
// same prices it publishes.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice float64
	StepPct    float64 // per-tick move as a fraction of price
	Interval   time.Duration

	mu     sync.RWMutex
	prices map[string]float64
	closes map[string]float64
}

func (m *MockFeed) init() {
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"AAPL"}
	}
	if m.StartPrice == 0 {
		m.StartPrice = 100.0
	}
	if m.StepPct == 0 {
		m.StepPct = 0.002
	}
	if m.Interval == 0 {
		m.Interval = time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[string]float64, len(m.Symbols))
		m.closes = make(map[string]float64, len(m.Symbols))
		for _, sym := range m.Symbols {
			m.prices[sym] = m.StartPrice
			// Previous session close is the simulation's starting price.
			m.closes[sym] = m.StartPrice
		}
	}
}

// Start begins publishing ticks until the context is cancelled.
func (m *MockFeed) Start(ctx context.Context) {
	m.init()
	if m.Bus == nil {
		log.Println("mock feed: bus not set")
		return
	}

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for _, sym := range m.Symbols {
					price := m.step(sym)
					m.Bus.Publish(events.EventPriceTick, events.Tick{
						Symbol: sym,
						Price:  price,
						At:     time.Now(),
					})
				}
			}
		}
	}()
}

// step applies one random-walk move and returns the new price.
func (m *MockFeed) step(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	price := m.prices[symbol]
	price += price * (rand.Float64()*2 - 1) * m.StepPct
	if price < 0.01 {
		price = 0.01
	}
	m.prices[symbol] = price
	return price
}

// SetPrice pins a symbol's price; used by tests and replays.
func (m *MockFeed) SetPrice(symbol string, price float64) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	if _, ok := m.closes[symbol]; !ok {
		m.closes[symbol] = price
	}
}

// RollSession moves current prices into previous close, as a session
// boundary would.
func (m *MockFeed) RollSession() {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()
	for sym, p := range m.prices {
		m.closes[sym] = p
	}
}

// GetQuote implements Gateway against the simulated prices.
func (m *MockFeed) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	m.init()
	m.mu.RLock()
	price, ok := m.prices[symbol]
	prev := m.closes[symbol]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, ErrUnavailable
	}
	return Quote{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: prev,
		Timestamp:     time.Now(),
	}, nil
}

package cache

import (
	"testing"
	"time"
)

func TestFreshnessWindow(t *testing.T) {
	c := NewQuoteCache(50 * time.Millisecond)

	c.Set("AAPL", Entry{Price: 150, UpdatedAt: time.Now()})
	if e, ok := c.GetFresh("AAPL"); !ok || e.Price != 150 {
		t.Fatalf("fresh entry missing: %+v %v", e, ok)
	}

	c.Set("MSFT", Entry{Price: 400, UpdatedAt: time.Now().Add(-time.Second)})
	if _, ok := c.GetFresh("MSFT"); ok {
		t.Error("stale entry served as fresh")
	}
	if e, ok := c.Get("MSFT"); !ok || e.Price != 400 {
		t.Error("stale entry should still be readable via Get")
	}

	if _, ok := c.GetFresh("TSLA"); ok {
		t.Error("unknown symbol should miss")
	}
}

func TestCleanup(t *testing.T) {
	c := NewQuoteCache(time.Minute)
	c.Set("AAPL", Entry{Price: 150, UpdatedAt: time.Now()})
	c.Set("MSFT", Entry{Price: 400, UpdatedAt: time.Now().Add(-time.Hour)})

	if removed := c.Cleanup(time.Minute); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
	if _, ok := c.Get("AAPL"); !ok {
		t.Error("recent entry was cleaned up")
	}
}

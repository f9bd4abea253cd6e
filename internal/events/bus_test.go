package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventOrderExecuted, 4)
	defer unsub()

	want := OrderUpdate{OrderID: "o1", Status: "EXECUTED"}
	bus.Publish(EventOrderExecuted, want)
	bus.Publish(EventOrderCreated, OrderUpdate{OrderID: "other"})

	select {
	case got := <-ch:
		if got.(OrderUpdate).OrderID != "o1" {
			t.Fatalf("got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected cross-topic delivery: %+v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventAlert, 1)

	unsub()
	unsub() // second call is a no-op

	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}

	// Publishing to a topic with no remaining subscribers must not panic.
	bus.Publish(EventAlert, "orphaned")
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(EventPriceTick, 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(EventPriceTick, Tick{Symbol: "AAPL", Price: float64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}

	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	a, ua := bus.Subscribe(EventSummaryCreated, 1)
	b, ub := bus.Subscribe(EventSummaryCreated, 1)
	defer ua()
	defer ub()

	bus.Publish(EventSummaryCreated, "s1")
	for name, ch := range map[string]<-chan any{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got != "s1" {
				t.Errorf("%s got %v", name, got)
			}
		case <-time.After(time.Second):
			t.Errorf("%s missed delivery", name)
		}
	}
}

package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"execution-core/internal/events"
)

// AlertSink is a pluggable alert delivery target.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("alert: %s", message)
	return nil
}

// Watcher forwards alert events from the bus to a sink.
type Watcher struct {
	Bus  *events.Bus
	Sink AlertSink
}

func (w *Watcher) Start(ctx context.Context) {
	if w.Bus == nil || w.Sink == nil {
		log.Println("alert watcher not fully configured; skipping")
		return
	}
	stream, unsub := w.Bus.Subscribe(events.EventAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := w.Sink.Send(formatAlert(msg)); err != nil {
					log.Printf("alert watcher: send failed: %v", err)
				}
			}
		}
	}()
}

func formatAlert(msg any) string {
	ts := time.Now().Format(time.RFC3339)
	switch t := msg.(type) {
	case string:
		return "[" + ts + "] " + t
	default:
		return fmt.Sprintf("[%s] %v", ts, t)
	}
}

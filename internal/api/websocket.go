package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"execution-core/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics are the bus topics mirrored out to websocket clients.
var streamTopics = []events.Event{
	events.EventPriceTick,
	events.EventOrderCreated,
	events.EventOrderApproved,
	events.EventOrderRejected,
	events.EventOrderExecuted,
	events.EventOrderCancelled,
	events.EventOrderExpired,
	events.EventOrderRolledOver,
	events.EventSummaryCreated,
	events.EventLifecycleRun,
}

type wsEnvelope struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan wsEnvelope, 256)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range streamTopics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		go func(topic events.Event, stream <-chan any, unsub func()) {
			defer unsub()
			for {
				select {
				case <-done:
					return
				case msg, ok := <-stream:
					if !ok {
						return
					}
					select {
					case merged <- wsEnvelope{Topic: string(topic), Data: msg}:
					default:
					}
				}
			}
		}(topic, stream, unsub)
	}

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case env := <-merged:
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/huntplane/huntplane/internal/logger"
)

// Event is a control-plane notification pushed to connected websocket
// clients: job submissions, state transitions, findings, kill switch
// changes.
type Event struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	EventJobSubmitted      = "job.submitted"
	EventJobStopped        = "job.stopped"
	EventIntelSubmitted    = "intelligence.submitted"
	EventCandidateReviewed = "candidate.reviewed"
	EventFindingReviewed   = "finding.reviewed"
	EventKillSwitch        = "killswitch.changed"
	EventTargetChanged     = "target.changed"
)

// EventHub fans control-plane events out to websocket subscribers.
// Slow clients are dropped rather than allowed to block the hub.
type EventHub struct {
	log     *logger.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

func NewEventHub(log *logger.Logger) *EventHub {
	return &EventHub{
		log:     log.WithComponent("events"),
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Publish delivers an event to every connected client without
// blocking. A client whose buffer is full misses the event.
func (h *EventHub) Publish(eventType string, data interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.log.Warnw("Dropping event for slow websocket client", "type", eventType)
			_ = conn
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the API key middleware; the socket carries
	// no operator input.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades the connection and streams events until the client
// disconnects.
func (h *EventHub) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warnw("Websocket upgrade failed", "error", err, "ip", c.ClientIP())
			return
		}

		ch := make(chan Event, 64)
		h.mu.Lock()
		h.clients[conn] = ch
		h.mu.Unlock()

		h.log.Debugw("Websocket client connected", "ip", c.ClientIP())

		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()

		// Reader goroutine: drains control frames and detects close.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case event := <-ch:
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			case <-c.Request.Context().Done():
				return
			}
		}
	}
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

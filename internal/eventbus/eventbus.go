// Package eventbus fans out append-only Event records to WebSocket
// subscribers, grounded on the teacher's job-event hub (spec §4.7).
package eventbus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bobmcallan/robotmw/internal/common"
	"github.com/bobmcallan/robotmw/internal/models"
)

// subscriberBuffer bounds how many undelivered events a slow subscriber
// may accumulate before being evicted (spec §4.7).
const subscriberBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Filter narrows which events a subscriber receives.
type Filter struct {
	Category models.Category // empty matches all categories
	TraceID  string          // empty matches all trace ids
}

func (f Filter) matches(e models.Event) bool {
	if f.Category != "" && f.Category != e.Category {
		return false
	}
	if f.TraceID != "" && f.TraceID != e.TraceID {
		return false
	}
	return true
}

// Hub manages subscriber connections and broadcasts published events.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan models.Event
	register   chan *client
	unregister chan *client
	done       chan struct{}
	logger     *common.Logger
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	filter Filter
}

// New creates a Hub. Run must be started in its own goroutine.
func New(logger *common.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan models.Event, subscriberBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop. Call as a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug().Int("clients", len(h.clients)).Msg("event subscriber connected")

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug().Int("clients", len(h.clients)).Msg("event subscriber disconnected")

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn().Err(err).Msg("failed to marshal event")
				continue
			}

			h.mu.RLock()
			var slow []*client
			for c := range h.clients {
				if !c.filter.matches(event) {
					continue
				}
				select {
				case c.send <- data:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if _, ok := h.clients[c]; ok {
						delete(h.clients, c)
						close(c.send)
					}
				}
				h.mu.Unlock()
				h.logger.Warn().Int("count", len(slow)).Msg("evicted slow event subscribers")
				h.notifySlowEviction(len(slow))
			}
		}
	}
}

// notifySlowEviction delivers a WARN event to the subscribers that
// survived an eviction round, so clients observe bus backpressure
// instead of only finding out via a missing peer. Delivered directly
// to h.clients rather than through h.broadcast, since this runs from
// inside Run's own broadcast case.
func (h *Hub) notifySlowEviction(count int) {
	event := models.Event{
		Timestamp: time.Now(),
		Severity:  models.SeverityWarn,
		Category:  models.CategoryAudit,
		Message:   "evicted slow event subscribers",
		Context:   map[string]interface{}{"count": count},
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal slow-subscriber eviction event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Stop signals the hub's event loop to exit.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Publish enqueues an event for broadcast. Never blocks; drops and logs
// if the broadcast channel itself is saturated.
func (h *Hub) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn().Msg("event bus broadcast channel full, dropping event")
	}
}

// ServeWS upgrades the request to a WebSocket subscriber connection,
// honoring optional ?category= and ?trace_id= query filters.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("event subscriber upgrade failed")
		return
	}

	filter := Filter{
		Category: models.Category(r.URL.Query().Get("category")),
		TraceID:  r.URL.Query().Get("trace_id"),
	}
	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, subscriberBuffer),
		filter: filter,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

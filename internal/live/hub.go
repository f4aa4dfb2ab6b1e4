// Package live pushes device, arm and activity changes to connected dashboards
// over WebSocket, replacing per-view polling.
package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Event types.
const (
	EventDevice   = "device"
	EventArm      = "arm"
	EventActivity = "activity"
	EventPing     = "ping"
)

const (
	defaultPingInterval = 30 * time.Second
	writeTimeout        = 10 * time.Second
	sendBuffer          = 32
)

// Event is one message to viewers.
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Status describes the hub for the status endpoint.
type Status struct {
	Clients   int   `json:"clients"`
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
}

type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans events out to every connected viewer. A viewer that cannot keep
// up has events dropped rather than stalling publishers.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*client]struct{}
	snapshot  func() []Event
	published int64
	dropped   int64

	pingInterval time.Duration
	logger       zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*client]struct{}),
		pingInterval: defaultPingInterval,
		logger:       logger.With().Str("component", "live").Logger(),
	}
}

// OnConnect sets the events sent to each new viewer before live updates.
func (h *Hub) OnConnect(fn func() []Event) {
	h.mu.Lock()
	h.snapshot = fn
	h.mu.Unlock()
}

// Publish queues an event for every viewer without blocking.
func (h *Hub) Publish(eventType string, data any) {
	event := Event{Type: eventType, Data: data, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.published++
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.dropped++
			h.logger.Warn().Str("event", eventType).Msg("viewer too slow, event dropped")
		}
	}
}

// Attach takes ownership of conn and serves it until it disconnects.
func (h *Hub) Attach(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	snapshot := h.snapshot
	h.mu.Unlock()
	if snapshot != nil {
		for _, event := range snapshot() {
			select {
			case c.send <- event:
			default:
			}
		}
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", count).Msg("viewer connected")

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Status returns connection and delivery counters.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Status{Clients: len(h.clients), Published: h.published, Dropped: h.dropped}
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info().Int("clients", count).Msg("viewer disconnected")
	}
}

// writeLoop is the only writer on the connection.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			if err := h.write(c, event); err != nil {
				h.logger.Debug().Err(err).Msg("write to viewer failed")
				return
			}
		case <-ticker.C:
			if err := h.write(c, Event{Type: EventPing, At: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// readLoop drains viewer messages; viewers only listen, so anything read is discarded.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) write(c *client, event Event) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(event)
}

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ada-ai/ada/internal/eventbus"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Frame types carried in StreamMessage.Type.
const (
	frameEvent  = "event"
	frameTopics = "topics"
	frameError  = "error"
)

// StreamMessage is the JSON frame pushed to event stream subscribers.
type StreamMessage struct {
	Type          string    `json:"type"`
	Topic         string    `json:"topic,omitempty"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// clientCommand is the JSON shape accepted from subscribers.
type clientCommand struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics,omitempty"`
}

type outboundMessage struct {
	messageType int
	payload     []byte
}

// client is one connected WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan outboundMessage
	hub  *Hub

	mu     sync.RWMutex
	topics map[eventbus.Topic]struct{} // empty means every topic
}

// Hub fans bus envelopes out to connected WebSocket subscribers.
type Hub struct {
	broadcast  chan eventbus.Envelope
	register   chan *client
	unregister chan *client
	stop       chan struct{}
	stopOnce   sync.Once
	upgrader   websocket.Upgrader
	logger     *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a hub. originAllowed validates the Origin header on upgrade
// requests; a nil func rejects every browser client that sends an Origin.
func NewHub(originAllowed func(string) bool, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan eventbus.Envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		stop:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originAllowed != nil {
					return originAllowed(origin)
				}
				return false
			},
		},
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnPublish implements eventbus.Observer. Delivery never blocks the caller:
// when the broadcast buffer is full the envelope is dropped.
func (h *Hub) OnPublish(env eventbus.Envelope) {
	select {
	case h.broadcast <- env:
	default:
	}
}

// Run starts the hub event loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Printf("[Gateway] websocket subscriber %s connected", c.id)
			h.sendTopics(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Printf("[Gateway] websocket subscriber %s disconnected", c.id)
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.dispatch(env)

		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop terminates the event loop and disconnects every subscriber.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) dispatch(env eventbus.Envelope) {
	msg := StreamMessage{
		Type:          frameEvent,
		Topic:         string(env.Topic),
		Source:        string(env.Source),
		CorrelationID: env.CorrelationID,
		Data:          env.Payload,
		Timestamp:     env.Timestamp,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[Gateway] marshal event frame: %v", err)
		return
	}

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(env.Topic) {
			continue
		}
		select {
		case c.send <- outboundMessage{messageType: websocket.TextMessage, payload: payload}:
		default:
			// Subscriber cannot keep up, skip this frame.
		}
	}
	h.mu.RUnlock()
}

// sendTopics pushes the declared topic set to one subscriber.
func (h *Hub) sendTopics(c *client) {
	topics := eventbus.AllTopics()
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, string(t))
	}
	msg := StreamMessage{Type: frameTopics, Data: names, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Printf("[Gateway] marshal topics frame: %v", err)
		return
	}
	select {
	case c.send <- outboundMessage{messageType: websocket.TextMessage, payload: payload}:
	default:
	}
}

// HandleWebSocket upgrades the request and registers the subscriber.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("[Gateway] websocket upgrade: %v", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan outboundMessage, 64),
		hub:    h,
		topics: make(map[eventbus.Topic]struct{}),
	}

	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// wants reports whether the subscriber asked for the topic. An empty filter
// matches everything.
func (c *client) wants(topic eventbus.Topic) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.topics) == 0 {
		return true
	}
	_, ok := c.topics[topic]
	return ok
}

// subscribe narrows the filter to the named topics. Unknown names are
// reported back to the subscriber and skipped.
func (c *client) subscribe(names []string) {
	var unknown []string
	c.mu.Lock()
	for _, name := range names {
		topic := eventbus.Topic(name)
		if !topic.Known() {
			unknown = append(unknown, name)
			continue
		}
		c.topics[topic] = struct{}{}
	}
	c.mu.Unlock()

	for _, name := range unknown {
		c.sendError(fmt.Sprintf("unknown topic %q", name))
	}
}

// unsubscribe widens the filter. Removing the last topic restores delivery
// of every topic.
func (c *client) unsubscribe(names []string) {
	c.mu.Lock()
	for _, name := range names {
		delete(c.topics, eventbus.Topic(name))
	}
	c.mu.Unlock()
}

// readPump consumes subscriber commands until the connection drops.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("[Gateway] websocket read: %v", err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}

		var cmd clientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendError("malformed command")
			continue
		}

		switch cmd.Type {
		case "subscribe":
			c.subscribe(cmd.Topics)
		case "unsubscribe":
			c.unsubscribe(cmd.Topics)
		case "topics":
			c.hub.sendTopics(c)
		default:
			c.sendError(fmt.Sprintf("unknown command %q", cmd.Type))
		}
	}
}

// writePump flushes outbound frames and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(message.messageType, message.payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendError pushes an error frame to this subscriber only.
func (c *client) sendError(message string) {
	msg := StreamMessage{Type: frameError, Data: message, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- outboundMessage{messageType: websocket.TextMessage, payload: payload}:
	default:
	}
}

// Package realtime streams live subscription activity over WebSockets.
//
// Back-office dashboards subscribe to events instead of polling:
// payments as they land, access sync pushes and their results, and
// renewal or suspension decisions.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/helanet/helanet/internal/metrics"
)

// EventType names a category of realtime event.
type EventType string

const (
	EventPayment EventType = "payment"
	EventSync    EventType = "sync"
	EventRenewal EventType = "renewal"
	EventStatus  EventType = "client_status"
)

// Event is one realtime notification.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription narrows which events a connection receives. The zero value
// (no filters) receives everything.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	ClientIDs  []string    `json:"clientIds"` // watch specific subscribers
}

// matches reports whether event passes this subscription's filters.
func (s Subscription) matches(event *Event) bool {
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !containsType(s.EventTypes, event.Type) {
		return false
	}
	if len(s.ClientIDs) > 0 {
		// Only map payloads carry a clientId; anything else passes through.
		if data, ok := event.Data.(map[string]interface{}); ok {
			id, _ := data["clientId"].(string)
			if !containsString(s.ClientIDs, id) {
				return false
			}
		}
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// Client is one dashboard connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

// MaxClients caps concurrent WebSocket connections.
const MaxClients = 10000

// HubStats is a snapshot of hub activity for the stats endpoint.
type HubStats struct {
	ConnectedClients int   `json:"connectedClients"`
	TotalEvents      int64 `json:"totalEvents"`
	TotalClients     int64 `json:"totalClients"`
	PeakClients      int64 `json:"peakClients"`
}

// Hub owns every live connection and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; blocks late upgrades
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run drives the hub until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.totalClients.Add(1)
	if current := int64(len(h.clients)); current > h.peakClients.Load() {
		h.peakClients.Store(current)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("dashboard connected", "total", n)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Info("dashboard disconnected", "total", n)
}

// fanOut delivers event to every matching connection. A connection whose
// send buffer is full is dropped rather than allowed to stall the hub.
func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !h.shouldSend(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) shouldSend(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()
	return sub.matches(event)
}

// Broadcast queues an event for delivery, dropping it if the hub is
// saturated.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// EmitPayment publishes a payment outcome. Satisfies the payments event
// emitter.
func (h *Hub) EmitPayment(clientID, amount, result string) {
	h.Broadcast(&Event{
		Type:      EventPayment,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"clientId": clientID,
			"amount":   amount,
			"result":   result,
		},
	})
}

// EmitSync publishes an access-server push result. Satisfies the
// provisioning event emitter.
func (h *Hub) EmitSync(clientID, action, result string) {
	h.Broadcast(&Event{
		Type:      EventSync,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"clientId": clientID,
			"action":   action,
			"result":   result,
		},
	})
}

// EmitRenewal publishes a renewal sweep decision.
func (h *Hub) EmitRenewal(clientID, outcome string) {
	h.Broadcast(&Event{
		Type:      EventRenewal,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"clientId": clientID,
			"outcome":  outcome,
		},
	})
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats snapshots hub activity counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	connected := len(h.clients)
	h.mu.RUnlock()

	return HubStats{
		ConnectedClients: connected,
		TotalEvents:      h.totalEvents.Load(),
		TotalClients:     h.totalClients.Load(),
		PeakClients:      h.peakClients.Load(),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// HandleWebSocket upgrades the request and attaches it to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		// The hub has stopped; an upgrade now would orphan the connection.
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	if h.ClientCount() >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true}, // default until the first subscription message
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// expectedCloseCodes are close codes from an orderly client disconnect.
var expectedCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// readPump consumes inbound frames; valid JSON replaces the connection's
// subscription.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, expectedCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.mu.Lock()
			c.sub = sub
			c.mu.Unlock()
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

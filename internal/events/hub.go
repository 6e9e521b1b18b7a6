package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Config tunes the event hub.
type Config struct {
	MaxConnections  int
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string
}

// Hub fans admission, intrusion, block, and load events out to websocket
// subscribers.
type Hub struct {
	config   Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	broadcast  chan Event
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[*Client]bool
	stats   HubStats
}

// NewHub creates an event hub.
func NewHub(config Config, logger *zap.Logger) *Hub {
	h := &Hub{
		config:     config,
		logger:     logger,
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  config.ReadBufferSize,
		WriteBufferSize: config.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run pumps registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting event hub", zap.String("component", "events"))

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// Publish queues an event for broadcast, dropping it if the hub is saturated.
// Event delivery is best-effort; the audit log is the durable record.
func (h *Hub) Publish(eventType Type, data interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("component", "events"),
			zap.String("event_type", string(eventType)))
	}
}

// HandleWebSocket upgrades an HTTP request into an event subscription.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	full := h.config.MaxConnections > 0 && len(h.clients) >= h.config.MaxConnections
	h.mu.RUnlock()
	if full {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection",
			zap.String("component", "events"), zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          clientIP(r),
	}

	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

// GetStats returns hub counters.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := h.stats
	stats.ActiveConnections = int64(len(h.clients))
	return stats
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++
	h.stats.LastConnectionTime = time.Now()

	h.logger.Info("Event subscriber connected",
		zap.String("component", "events"),
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int("active", len(h.clients)))

	h.Publish(TypeConnection, ConnectionEvent{
		Action:   "connected",
		ClientID: client.ID,
		ClientIP: client.IP,
	})
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.stats.ActiveConnections--

	h.logger.Info("Event subscriber disconnected",
		zap.String("component", "events"),
		zap.String("client_id", client.ID),
		zap.Int("active", len(h.clients)))

	h.Publish(TypeConnection, ConnectionEvent{
		Action:   "disconnected",
		ClientID: client.ID,
		ClientIP: client.IP,
	})
}

func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()

	for client := range h.clients {
		if !client.wants(event.Type) {
			continue
		}
		select {
		case client.Send <- event:
			h.stats.TotalMessages++
		default:
			// Slow consumer; drop it rather than backing up the hub.
			h.logger.Warn("Subscriber send buffer full, closing",
				zap.String("component", "events"),
				zap.String("client_id", client.ID))
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections--
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.Send)
	}
}

// wants reports whether the subscriber's filter accepts an event type. No
// subscription, or an empty filter, means everything.
func (c *Client) wants(t Type) bool {
	if c.Subscription == nil || len(c.Subscription.Events) == 0 {
		return true
	}
	for _, e := range c.Subscription.Events {
		if e == t {
			return true
		}
	}
	return false
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Error("Failed to write event",
					zap.String("component", "events"),
					zap.String("client_id", client.ID),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.LastPing = time.Now()
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("Websocket error",
					zap.String("component", "events"),
					zap.String("client_id", client.ID),
					zap.Error(err))
			}
			break
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		data, ok := msg.Data.(map[string]interface{})
		if !ok {
			return
		}
		raw, _ := json.Marshal(data)
		var sub SubscriptionRequest
		if err := json.Unmarshal(raw, &sub); err != nil {
			return
		}
		client.Subscription = &sub
		h.logger.Info("Subscription updated",
			zap.String("component", "events"),
			zap.String("client_id", client.ID))
	case "ping":
		select {
		case client.Send <- Event{Type: "pong", Timestamp: time.Now()}:
		default:
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

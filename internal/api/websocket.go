package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/terrarium-core/internal/infrastructure/config"
	"github.com/nerrad567/terrarium-core/internal/infrastructure/logging"
)

// Message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels.
const (
	ChannelActuators   = "actuators.changed"
	ChannelAutoControl = "auto_control.changed"
	ChannelSensor      = "sensor.reading"
)

// Channels lists every channel a client may subscribe to.
var Channels = []string{ChannelActuators, ChannelAutoControl, ChannelSensor}

const (
	defaultWSMaxMessageSize = 8192
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 10 * time.Second

	// wsQueueSize is how many events a slow client may fall behind before
	// further events are dropped for it.
	wsQueueSize = 256
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is an inbound WSMessage with its payload decoded.
type wsRequest struct {
	Type    string             `json:"type"`
	ID      string             `json:"id"`
	Payload WSSubscribePayload `json:"payload"`
}

// Hub fans store changes out to WebSocket clients by channel.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader

	maxMessage int64
	pingEvery  time.Duration
	pongWait   time.Duration

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	dropped atomic.Uint64
}

// NewHub creates a hub. Zero config values take defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS middleware.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		maxMessage: defaultWSMaxMessageSize,
		pingEvery:  defaultWSPingInterval,
		pongWait:   defaultWSPongTimeout,
		clients:    make(map[*wsClient]struct{}),
	}
	if cfg.MaxMessageSize > 0 {
		h.maxMessage = int64(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		h.pingEvery = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		h.pongWait = time.Duration(cfg.PongTimeout) * time.Second
	}
	return h
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded for clients whose queue
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Broadcast sends an event to every client subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: wsTimestamp(),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	recipients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(channel) {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		if !c.enqueue(data) {
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// handleWebSocket upgrades the request. Authentication, when enabled, has
// already run in authMiddleware.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:     s.hub,
		conn:    conn,
		queue:   make(chan []byte, wsQueueSize),
		done:    make(chan struct{}),
		subject: subjectFrom(r.Context()),
		subs:    make(map[string]struct{}),
	}
	s.hub.add(c)

	go c.writeLoop()
	go c.readLoop()
}

// wsClient is one connection. The read loop owns inbound frames, the write
// loop owns every write to conn.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
	subject string

	mu   sync.RWMutex
	subs map[string]struct{}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues data for the write loop. It reports false when the data
// was dropped because the client is gone or too far behind.
func (c *wsClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[channel]
	return ok
}

func (c *wsClient) readLoop() {
	defer c.hub.remove(c)

	deadline := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.pingEvery + c.hub.pongWait))
	}
	c.conn.SetReadLimit(c.hub.maxMessage)
	_ = deadline()
	c.conn.SetPongHandler(func(string) error { return deadline() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "subject", c.subject, "error", err)
			}
			return
		}
		_ = deadline()
		c.handle(data)
	}
}

func (c *wsClient) writeLoop() {
	ping := time.NewTicker(c.hub.pingEvery)
	defer func() {
		ping.Stop()
		c.close()
	}()

	write := func(kind int, data []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			_ = write(websocket.CloseMessage, nil)
			return
		case data := <-c.queue:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) handle(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypeSubscribe:
		c.subscribe(req)
	case WSTypeUnsubscribe:
		c.unsubscribe(req)
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// subscribe adds channels; one unknown channel rejects the whole request.
func (c *wsClient) subscribe(req wsRequest) {
	channels := req.Payload.Channels
	if len(channels) == 0 {
		c.reply(req.ID, WSTypeError, errorBody("no channels given"))
		return
	}
	for _, ch := range channels {
		if !slices.Contains(Channels, ch) {
			c.reply(req.ID, WSTypeError, errorBody("unknown channel: "+ch))
			return
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"subscribed": channels})
}

func (c *wsClient) unsubscribe(req wsRequest) {
	c.mu.Lock()
	for _, ch := range req.Payload.Channels {
		delete(c.subs, ch)
	}
	c.mu.Unlock()

	c.reply(req.ID, WSTypeResponse, map[string]any{"unsubscribed": req.Payload.Channels})
}

func (c *wsClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{Type: kind, ID: id, Timestamp: wsTimestamp(), Payload: payload})
	if err != nil {
		return
	}
	c.enqueue(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

func wsTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

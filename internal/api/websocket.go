package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// getClientIP prefers proxy headers over the socket address
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // overlays run from file:// and other local origins
	},
}

// liveClient is one /ws connection. types is the set of event types it
// asked for; empty means everything.
type liveClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	out  chan []byte
	addr string

	mu    sync.Mutex
	types map[string]bool
}

func (c *liveClient) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.types) == 0 || c.types[eventType]
}

func (c *liveClient) setTypes(types []string) {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = true
		}
	}
	c.mu.Lock()
	c.types = set
	c.mu.Unlock()
}

// subscribeRequest is the only message a client sends: it replaces the
// client's event type filter
type subscribeRequest struct {
	Types []string `json:"types"`
}

type encodedEvent struct {
	eventType string
	payload   []byte
}

// WebSocketHub fans live events out to connected clients
type WebSocketHub struct {
	clients  map[*liveClient]struct{}
	events   chan encodedEvent
	joins    chan *liveClient
	leaves   chan *liveClient
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	logger   *zap.Logger
}

func NewWebSocketHub(logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHub{
		clients: make(map[*liveClient]struct{}),
		events:  make(chan encodedEvent, sendBuffer),
		joins:   make(chan *liveClient),
		leaves:  make(chan *liveClient),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Run owns the client set until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.joins:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Live client connected", zap.String("addr", c.addr), zap.Int("clients", n))

		case c := <-h.leaves:
			h.mu.Lock()
			h.drop(c)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("Live client disconnected", zap.String("addr", c.addr), zap.Int("clients", n))

		case ev := <-h.events:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(ev.eventType) {
					continue
				}
				select {
				case c.out <- ev.payload:
				default:
					h.logger.Warn("Live client too slow, disconnecting", zap.String("addr", c.addr))
					h.drop(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client; the caller holds mu
func (h *WebSocketHub) drop(c *liveClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.out)
	}
}

// Stop ends Run and closes every client
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues an event for every client subscribed to its type
func (h *WebSocketHub) Broadcast(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Encoding event failed", zap.String("event", event.Type), zap.Error(err))
		return
	}

	select {
	case h.events <- encodedEvent{eventType: event.Type, payload: payload}:
	default:
		h.logger.Warn("Event queue full, dropping event", zap.String("event", event.Type))
	}
}

func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket serves /ws. ?types=a,b limits the stream to those event
// types; a client may later send {"types": [...]} to change it.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &liveClient{
		hub:  r.wsHub,
		conn: conn,
		out:  make(chan []byte, sendBuffer),
		addr: getClientIP(req),
	}
	if types := req.URL.Query().Get("types"); types != "" {
		c.setTypes(strings.Split(types, ","))
	}

	select {
	case r.wsHub.joins <- c:
	case <-r.wsHub.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

// readLoop applies subscribe requests and detects disconnects
func (c *liveClient) readLoop() {
	defer func() {
		select {
		case c.hub.leaves <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var sub subscribeRequest
		if err := c.conn.ReadJSON(&sub); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.hub.logger.Debug("Ignoring bad subscribe message", zap.String("addr", c.addr), zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("Live client read failed", zap.String("addr", c.addr), zap.Error(err))
			}
			return
		}
		c.setTypes(sub.Types)
	}
}

// writeLoop sends one event per frame and keeps the connection alive with pings
func (c *liveClient) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

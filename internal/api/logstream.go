package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ernie/raidkeeper/internal/collector"
)

const initialLogLines = 200

// ErrNoLogFile is returned when there is no log to stream
var ErrNoLogFile = errors.New("no log file is being followed")

// LogMessage is the message format for log streaming
type LogMessage struct {
	Type    string   `json:"type"`              // "initial", "lines", "switched", "error"
	Path    string   `json:"path,omitempty"`    // log file for "initial" and "switched"
	Lines   []string `json:"lines,omitempty"`   // log lines
	Message string   `json:"message,omitempty"` // error message
}

// LogStreamClient represents a client subscribed to log streaming
type LogStreamClient struct {
	conn    *websocket.Conn
	send    chan []byte
	closed  chan struct{}
	manager *LogStreamManager
}

// LogStreamManager tails the current EverQuest log while anyone is watching
type LogStreamManager struct {
	mu       sync.RWMutex
	source   func() string
	interval time.Duration
	logger   *zap.Logger
	tailer   *collector.LogTailer
	stop     chan struct{}
	clients  map[*LogStreamClient]bool
	wg       sync.WaitGroup
}

// NewLogStreamManager creates a log stream manager. source reports the log
// to follow and may be nil when no collector runs.
func NewLogStreamManager(source func() string, interval time.Duration, logger *zap.Logger) *LogStreamManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStreamManager{
		source:   source,
		interval: interval,
		logger:   logger,
		clients:  make(map[*LogStreamClient]bool),
	}
}

// Subscribe adds a client and returns the current path with its trailing lines
func (m *LogStreamManager) Subscribe(client *LogStreamClient) (string, []string, error) {
	path := ""
	if m.source != nil {
		path = m.source()
	}
	if path == "" {
		return "", nil, ErrNoLogFile
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tailer != nil && m.tailer.Path() != path {
		m.stopTailerLocked()
	}
	if m.tailer == nil {
		if err := m.startTailerLocked(path); err != nil {
			return "", nil, err
		}
	}

	lines, err := collector.ReadLastLines(path, initialLogLines)
	if err != nil {
		m.logger.Warn("Reading initial log lines failed", zap.String("path", path), zap.Error(err))
		lines = []string{}
	}

	m.clients[client] = true
	m.logger.Debug("Log stream client subscribed", zap.String("path", path), zap.Int("clients", len(m.clients)))
	return path, lines, nil
}

// Unsubscribe removes a client; the tailer stops with the last one
func (m *LogStreamManager) Unsubscribe(client *LogStreamClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.clients[client] {
		return
	}
	delete(m.clients, client)
	if len(m.clients) == 0 {
		m.stopTailerLocked()
	}
}

// Switch moves subscribers to another log file
func (m *LogStreamManager) Switch(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.clients) == 0 || (m.tailer != nil && m.tailer.Path() == path) {
		return
	}
	m.stopTailerLocked()
	if err := m.startTailerLocked(path); err != nil {
		m.logger.Warn("Switching log stream failed", zap.String("path", path), zap.Error(err))
		return
	}
	data, _ := json.Marshal(LogMessage{Type: "switched", Path: path})
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Close stops the tailer and waits for the forwarder
func (m *LogStreamManager) Close() {
	m.mu.Lock()
	m.stopTailerLocked()
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *LogStreamManager) startTailerLocked(path string) error {
	tailer := collector.NewLogTailer(path, m.interval)
	if err := tailer.Start(); err != nil {
		return err
	}
	m.tailer = tailer
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.forwardLines(tailer, m.stop)
	return nil
}

func (m *LogStreamManager) stopTailerLocked() {
	if m.tailer == nil {
		return
	}
	close(m.stop)
	m.tailer.Stop()
	m.tailer = nil
}

// forwardLines forwards new log lines to all subscribed clients
func (m *LogStreamManager) forwardLines(tailer *collector.LogTailer, stop <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return

		case line := <-tailer.Lines:
			data, _ := json.Marshal(LogMessage{Type: "lines", Lines: []string{line}})
			m.mu.RLock()
			for client := range m.clients {
				select {
				case client.send <- data:
				default:
					// Client buffer full; the line is dropped for it
				}
			}
			m.mu.RUnlock()

		case err := <-tailer.Errors:
			m.logger.Warn("Log tailer error", zap.String("path", tailer.Path()), zap.Error(err))
		}
	}
}

// handleLogWebSocket streams the raw log to an authenticated officer
func (r *Router) handleLogWebSocket(w http.ResponseWriter, req *http.Request) {
	// WebSocket can't send headers on upgrade
	token := req.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token required")
		return
	}
	if _, err := r.auth.ValidateToken(token); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("Log WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &LogStreamClient{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		closed:  make(chan struct{}),
		manager: r.logStream,
	}

	path, initialLines, err := r.logStream.Subscribe(client)
	if err != nil {
		r.logger.Warn("Log subscription failed", zap.Error(err))
		data, _ := json.Marshal(LogMessage{Type: "error", Message: err.Error()})
		conn.WriteMessage(websocket.TextMessage, data)
		conn.Close()
		return
	}

	data, _ := json.Marshal(LogMessage{Type: "initial", Path: path, Lines: initialLines})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		r.logStream.Unsubscribe(client)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket (handles close)
func (c *LogStreamClient) readPump() {
	defer func() {
		c.manager.Unsubscribe(c)
		close(c.closed)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends messages to the WebSocket until the connection closes
func (c *LogStreamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

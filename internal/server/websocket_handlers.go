package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/docflow/internal/metrics"
	"github.com/MeKo-Tech/docflow/internal/pipeline"
	"github.com/gorilla/websocket"
)

// Message types pushed to websocket clients.
const (
	MessageSnapshot = "snapshot"
	MessageJob      = "job"
	MessageJobs     = "jobs"
	MessageSession  = "session"
	MessageTask     = "task"
	MessageProgress = "progress"
	MessageError    = "error"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// WebSocket upgrader with reasonable defaults.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage represents a message sent over WebSocket.
type WebSocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// taskEvent reports the lifecycle of a background task.
type taskEvent struct {
	Task   string `json:"task"`
	Status string `json:"status"` // started, completed, failed, cancelled
	Error  string `json:"error,omitempty"`
}

// progressEvent reports stage progress.
type progressEvent struct {
	Status  string  `json:"status"` // started, progress, completed, error
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Error   string  `json:"error,omitempty"`
}

// clientCommand is a message sent by a client.
type clientCommand struct {
	Type string `json:"type"`
}

// Hub fans messages out to every connected websocket client. Clients that
// cannot keep up are dropped.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  *slog.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), logger: logger}
}

// Broadcast sends a message to all clients.
func (h *Hub) Broadcast(msgType string, payload any) {
	data, err := json.Marshal(WebSocketMessage{Type: msgType, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Dropping slow WebSocket client", "remote_addr", c.conn.RemoteAddr().String())
			delete(h.clients, c)
			c.close()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Later registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Progress returns a progress callback that broadcasts stage progress.
func (h *Hub) Progress() pipeline.ProgressCallback {
	return &hubProgress{hub: h}
}

type hubProgress struct {
	hub *Hub

	mu    sync.Mutex
	total int
}

func (p *hubProgress) OnStart(total int) {
	p.mu.Lock()
	p.total = total
	p.mu.Unlock()
	p.hub.Broadcast(MessageProgress, progressEvent{Status: "started", Total: total})
}

func (p *hubProgress) OnProgress(current, total int) {
	ev := progressEvent{Status: "progress", Current: current, Total: total}
	if total > 0 {
		ev.Percent = float64(current) / float64(total) * 100
	}
	p.hub.Broadcast(MessageProgress, ev)
}

func (p *hubProgress) OnComplete() {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	p.hub.Broadcast(MessageProgress, progressEvent{Status: "completed", Current: total, Total: total, Percent: 100})
}

func (p *hubProgress) OnError(current int, err error) {
	p.mu.Lock()
	total := p.total
	p.mu.Unlock()
	p.hub.Broadcast(MessageProgress, progressEvent{Status: "error", Current: current, Total: total, Error: err.Error()})
}

// websocketHandler upgrades the connection and streams engine events.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	metrics.WebsocketConnections.Inc()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	s.greet(c)
	go s.writePump(c)
	s.readPump(c)

	metrics.WebsocketConnections.Dec()
	s.logger.Info("WebSocket connection closed", "remote_addr", r.RemoteAddr)
}

// greet queues the current pipeline snapshot and job list for a new client.
func (s *Server) greet(c *client) {
	s.sendTo(c, MessageSnapshot, s.state.Snapshot())
	s.sendTo(c, MessageJobs, JobsResponse{Jobs: s.coord.Jobs(), Metrics: s.coord.Metrics()})
}

// readPump handles client commands until the connection closes.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		metrics.WebsocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}

		var cmd clientCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.sendTo(c, MessageError, "invalid message: "+err.Error())
			continue
		}
		switch cmd.Type {
		case "cancel":
			s.cancelTask()
			s.coord.CancelProcessing()
			if s.session != nil {
				s.session.Cancel()
			}
		case "snapshot":
			s.sendTo(c, MessageSnapshot, s.state.Snapshot())
		case "jobs":
			s.sendTo(c, MessageJobs, JobsResponse{Jobs: s.coord.Jobs(), Metrics: s.coord.Metrics()})
		default:
			s.sendTo(c, MessageError, "unsupported message type: "+cmd.Type)
		}
	}
}

// sendTo queues a message for a single client.
func (s *Server) sendTo(c *client, msgType string, payload any) {
	data, err := json.Marshal(WebSocketMessage{Type: msgType, Payload: payload})
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket message", "type", msgType, "error", err)
		return
	}
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writePump writes queued messages and keeps the connection alive.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Error("Failed to send WebSocket message", "error", err)
				return
			}
			metrics.WebsocketMessagesTotal.WithLabelValues("sent").Inc()
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

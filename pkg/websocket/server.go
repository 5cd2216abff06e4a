// Package websocket broadcasts market data to WebSocket clients: trades,
// book updates, best prices and periodic depth snapshots.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roshanshah11/vertexladder/pkg/book"
	"github.com/roshanshah11/vertexladder/pkg/publisher"
)

// Config holds WebSocket server tuning.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
	SendBuffer      int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second, // must be less than PongTimeout
		SendBuffer:      256,
	}
}

// Message is the wire envelope sent to clients.
type Message struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// subscribeRequest is the only inbound message clients send.
type subscribeRequest struct {
	Type     string   `json:"type"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// Server bridges the publisher hub to WebSocket clients. Each client picks
// channels; a slow client's send buffer overflowing disconnects that client
// only.
type Server struct {
	cfg    Config
	hub    *publisher.Hub
	eng    *book.Engine
	logger book.Logger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client

	messagesOut atomic.Uint64
	clientCount atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

type client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	mu       sync.RWMutex
	channels map[string]bool
}

// NewServer creates a server consuming events from the hub. The engine is
// only used for initial depth snapshots served to new subscribers.
func NewServer(cfg Config, hub *publisher.Hub, eng *book.Engine, logger book.Logger) *Server {
	if logger == nil {
		logger = book.NopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		hub:        hub,
		eng:        eng,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		ctx:        ctx,
		cancel:     cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start launches the broadcast loop.
func (s *Server) Start() {
	events := s.hub.Subscribe(4096)
	s.wg.Add(1)
	go s.loop(events)
}

// Stop disconnects all clients and stops the loop.
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int { return int(s.clientCount.Load()) }

// MessagesSent returns the number of messages written to clients.
func (s *Server) MessagesSent() uint64 { return s.messagesOut.Load() }

// ServeHTTP upgrades the connection and starts the client pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err.Error())
		return
	}
	c := &client{
		id:       strconv.FormatUint(s.nextID.Add(1), 10),
		conn:     conn,
		server:   s,
		send:     make(chan []byte, s.cfg.SendBuffer),
		channels: map[string]bool{"trades": true, "best_prices": true},
	}
	select {
	case s.register <- c:
	case <-s.ctx.Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (s *Server) loop(events chan publisher.Event) {
	defer s.wg.Done()
	defer func() {
		for c := range s.clients {
			close(c.send)
		}
		s.hub.Unsubscribe(events)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case c := <-s.register:
			s.clients[c] = struct{}{}
			s.clientCount.Add(1)
			s.logger.Info("websocket client connected", "client", c.id)
		case c := <-s.unregister:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				s.clientCount.Add(-1)
				s.logger.Info("websocket client disconnected", "client", c.id)
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

func (s *Server) broadcast(ev publisher.Event) {
	channel := channelFor(ev.Type)
	if channel == "" {
		return
	}
	msg := Message{
		Type:      ev.Type,
		Channel:   channel,
		Data:      ev.Data,
		Timestamp: time.Now().UnixNano(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("websocket marshal failed", "err", err.Error())
		return
	}
	for c := range s.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- payload:
			s.messagesOut.Add(1)
		default:
			// Send buffer full: the client is too slow, drop it.
			delete(s.clients, c)
			close(c.send)
			s.clientCount.Add(-1)
		}
	}
}

func channelFor(eventType string) string {
	switch eventType {
	case "trade":
		return "trades"
	case "book_update":
		return "book"
	case "best_prices":
		return "best_prices"
	case "depth":
		return "depth"
	case "execution_report":
		return "reports"
	}
	return ""
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.server.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.PongTimeout))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req subscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		c.mu.Lock()
		for _, ch := range req.Channels {
			c.channels[ch] = req.Type == "subscribe"
		}
		c.mu.Unlock()

		// A fresh depth subscriber needs a baseline: ask the matching
		// goroutine to publish one rather than reading the book from here.
		if req.Type == "subscribe" && c.server.eng != nil {
			for _, ch := range req.Channels {
				if ch == "depth" {
					c.server.eng.RequestSnapshot()
					break
				}
			}
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

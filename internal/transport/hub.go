package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/anime-shed/retina-inspector-go/internal/logger"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 64
	broadcastQueue = 256
)

// Hub fans analysis events out to the websocket clients watching the
// session the event belongs to. It is registered as an event observer.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan sessionMessage
	done       chan struct{}

	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// Client is one websocket connection bound to a session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

type sessionMessage struct {
	sessionID string
	data      []byte
}

// NewHub creates a hub accepting upgrades from allowedOrigins ("*" allows any).
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan sessionMessage, broadcastQueue),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Run dispatches registrations and messages until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.WithField("session_id", client.sessionID).Debug("Stream client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			logger.WithField("session_id", client.sessionID).Debug("Stream client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.sessionID != msg.sessionID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// slow consumer
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// OnEvent queues the event for the session's clients. It never blocks.
func (h *Hub) OnEvent(_ context.Context, event observer.AnalysisEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("Failed to marshal analysis event")
		return
	}
	h.enqueue(event.SessionID, data)
}

func (h *Hub) GetObserverName() string {
	return "WebSocketHub"
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) enqueue(sessionID string, data []byte) {
	select {
	case h.broadcast <- sessionMessage{sessionID: sessionID, data: data}:
	default:
		logger.WithField("session_id", sessionID).Warn("Broadcast queue full, dropping event")
	}
}

// Serve upgrades the request and streams events for sessionID. initial, if
// not nil, is sent before any event.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial interface{}) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WithError(err).WithField("session_id", sessionID).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		sessionID: sessionID,
	}

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.send <- data
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection so control frames are processed; clients
// do not send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WithFields(logrus.Fields{
					"session_id": c.sessionID,
					"error":      err.Error(),
				}).Warn("Websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

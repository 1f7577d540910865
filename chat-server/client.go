package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one live WebSocket connection. Its identity is unbound until the
// client announces online; its room set lives in the hub's room registry.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	userId string
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// identity returns the bound user id, or "" while the connection is unbound.
func (c *Client) identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userId
}

func (c *Client) bind(userId string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userId = userId
}

// enqueue marshals an event onto the connection's send buffer. Delivery is
// fire-and-forget: when the buffer is full the event is dropped for this
// connection rather than blocking the broadcasting handler.
func (c *Client) enqueue(evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("Failed to marshal outbound event", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.hub.droppedCounter.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("user", c.identity()),
		))
		slog.Warn("Dropped event for slow client", "user", c.identity())
	}
}

// readPump decodes inbound frames and hands them to the hub. It owns the
// disconnect: when the read loop ends for any reason, the connection goes
// through the full lifecycle teardown.
func (c *Client) readPump() {
	// The send channel is never closed: late broadcasts may still hold a
	// snapshot with this connection. writePump exits on its next write once
	// the conn is closed.
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("WebSocket closed unexpectedly", "user", c.identity(), "error", err)
			}
			return
		}
		var evt ClientEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("Invalid client event", "user", c.identity(), "error", err)
			continue
		}
		c.hub.handleEvent(context.Background(), c, evt)
	}
}

// writePump drains the send buffer onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The browser client is served from a different origin in development;
	// cross-origin access control happens at the token check instead.
	CheckOrigin: func(*http.Request) bool { return true },
}

// serveWS upgrades an HTTP request to a WebSocket connection. When a token
// validator is configured the upgrade requires a valid bearer token, passed
// either as a "token" query parameter or an Authorization header.
func serveWS(hub *Hub, validator *KeycloakValidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if validator != nil {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			claims, err := validator.ValidateToken(token)
			if err != nil {
				slog.Warn("Rejected WebSocket upgrade", "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			slog.Debug("Authenticated WebSocket upgrade", "user", claims.PreferredUsername)
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("WebSocket upgrade failed", "error", err)
			return
		}

		c := newClient(hub, conn)
		hub.register(c)
		go c.writePump()
		go c.readPump()
	}
}

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hirebridge/relay/internal/auth"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed for the first frame (the auth handshake) to arrive
	authWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16384
)

// Client is one live connection for one (eventually) authenticated identity.
// A user with several tabs or devices owns several Clients.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	id       string
	identity *auth.Identity    // nil until the handshake succeeds
	rooms    map[string]bool   // conversation ids this connection has joined
	mu       sync.RWMutex
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// NewClient creates a client for an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		id:     id,
		rooms:  make(map[string]bool),
		logger: logger.With("conn_id", id),
	}
}

// SetCancelFunc sets the context cancel function for cleanup
func (c *Client) SetCancelFunc(cancel context.CancelFunc) {
	c.cancel = cancel
}

// ID returns the unique connection identifier
func (c *Client) ID() string {
	return c.id
}

// SetIdentity attaches the authenticated identity. Called exactly once, on a
// successful handshake; the identity is immutable afterwards.
func (c *Client) SetIdentity(identity *auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// Identity returns the authenticated identity, or nil before the handshake
func (c *Client) Identity() *auth.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// IsAuthenticated reports whether the handshake has completed
func (c *Client) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity != nil
}

// JoinRoom adds a conversation to the connection's joined set
func (c *Client) JoinRoom(conversationID string) {
	c.mu.Lock()
	c.rooms[conversationID] = true
	c.mu.Unlock()
}

// LeaveRoom removes a conversation from the joined set
func (c *Client) LeaveRoom(conversationID string) {
	c.mu.Lock()
	delete(c.rooms, conversationID)
	c.mu.Unlock()
}

// IsInRoom checks whether the connection has joined a conversation
func (c *Client) IsInRoom(conversationID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[conversationID]
}

// Rooms returns all conversations the connection has joined
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// ReadPump pumps frames from the WebSocket connection into the hub.
// Runs on the connection's goroutine; the deferred unregister is the single
// cleanup path for every kind of disconnect.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	// The handshake frame must arrive before the first deadline; only after
	// authentication do pongs extend it.
	_ = c.conn.SetReadDeadline(time.Now().Add(authWait))
	c.conn.SetPongHandler(func(string) error {
		if c.IsAuthenticated() {
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					c.logger.Warn("websocket read error", "error", err)
				}
				return
			}

			var frame Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				c.sendError(CodeInvalidRequest, "failed to parse frame")
				continue
			}

			if !c.hub.HandleFrame(ctx, c, &frame) {
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

// WritePump pumps frames from the hub to the WebSocket connection
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(data)

			// Batch queued frames into the current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
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

// Send queues a frame for delivery to this connection
func (c *Client) Send(frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
	default:
		// Buffer full, drop frame
		c.logger.Warn("client send buffer full, dropping frame", "frame_type", frame.Type)
	}
	return nil
}

// sendError queues an error event to this connection
func (c *Client) sendError(code, message string) {
	frame, _ := NewFrame(EventError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	_ = c.Send(frame)
}

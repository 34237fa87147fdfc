package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/hirebridge/relay/internal/auth"
	"github.com/hirebridge/relay/internal/backend"
	"github.com/hirebridge/relay/internal/pubsub"
)

// MessageStore persists a message and returns the canonical record to
// broadcast. Satisfied by backend.Client.
type MessageStore interface {
	CreateMessage(ctx context.Context, conversationID, content string, sender *auth.Identity) (*backend.MessageRecord, error)
}

// Hub owns the connection registry and the room subscriptions, and drives
// every connection through its lifecycle: handshake, commands, disconnect.
type Hub struct {
	// Registered connections by user id. A user id has an entry iff at
	// least one of its connections is live; the entry is removed, never
	// left empty. That in/out transition is the sole presence signal.
	clients map[string]map[*Client]bool

	// Room subscriptions: conversation id -> set of connections.
	// Rooms spring into being on first join and are pruned when empty.
	rooms map[string]map[*Client]bool

	// Guards clients and rooms. Critical sections are short set mutations;
	// no collaborator I/O ever happens under this lock. Broadcast enqueues
	// also run under it so every subscriber sees the same room order.
	mu sync.RWMutex

	verifier auth.Verifier
	store    MessageStore
	presence *PresenceBroadcaster
	bus      pubsub.PubSub
	logger   *slog.Logger
}

// NewHub creates a hub wired to its collaborators
func NewHub(verifier auth.Verifier, store MessageStore, bus pubsub.PubSub, logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]map[*Client]bool),
		rooms:    make(map[string]map[*Client]bool),
		verifier: verifier,
		store:    store,
		presence: NewPresenceBroadcaster(bus, logger),
		bus:      bus,
		logger:   logger.With("component", "hub"),
	}
}

// Run subscribes the hub to presence announcements and fans them out to
// connected clients until the context is cancelled. With the Redis bus this
// is how presence from other relay instances reaches local connections.
func (h *Hub) Run(ctx context.Context) {
	sub, err := h.bus.Subscribe(ctx, pubsub.Topics.Presence(), h.handlePresenceMessage)
	if err != nil {
		h.logger.Error("presence subscription failed", "error", err)
		return
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
}

func (h *Hub) handlePresenceMessage(_ context.Context, msg *pubsub.Message) {
	var p PresencePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		h.logger.Error("malformed presence payload", "error", err)
		return
	}

	event := EventUserOnline
	if !p.Online {
		event = EventUserOffline
	}
	h.broadcastToAll(event, p)
}

// HandleFrame processes one inbound frame. Returns false when the connection
// must be terminated (failed or missing handshake).
func (h *Hub) HandleFrame(ctx context.Context, client *Client, frame *Frame) bool {
	// The first frame must be the handshake; nothing else is usable before
	// the connection is authenticated and registered.
	if !client.IsAuthenticated() {
		if frame.Type != EventAuth {
			client.sendError(CodeNotAuthenticated, "first frame must be auth")
			return false
		}
		return h.handleAuth(ctx, client, frame.Payload)
	}

	switch frame.Type {
	case EventJoin:
		h.handleJoin(client, frame.Payload)
	case EventLeave:
		h.handleLeave(client, frame.Payload)
	case EventSendMessage:
		h.handleSendMessage(ctx, client, frame.Payload)
	case EventTypingStart:
		h.handleTyping(client, frame.Payload, true)
	case EventTypingStop:
		h.handleTyping(client, frame.Payload, false)
	case EventAuth:
		client.sendError(CodeInvalidRequest, "already authenticated")
	default:
		client.sendError(CodeUnknownEvent, "unknown event type: "+frame.Type)
	}
	return true
}

// handleAuth verifies the token and, on success, registers the connection.
// Any failure terminates the connection before any state is created.
func (h *Hub) handleAuth(ctx context.Context, client *Client, payload json.RawMessage) bool {
	var p AuthPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError(CodeAuthFailed, "invalid auth payload")
		return false
	}

	identity, err := h.verifier.Verify(ctx, p.Token)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingToken) {
			h.logger.Warn("token verification failed", "conn_id", client.ID(), "error", err)
		}
		client.sendError(CodeAuthFailed, "token rejected")
		return false
	}

	client.SetIdentity(identity)
	h.register(client)

	frame, _ := NewFrame(EventAuthSuccess, AuthSuccessPayload{
		UserID:      identity.UserID,
		Role:        identity.Role,
		DisplayName: identity.DisplayName,
	})
	_ = client.Send(frame)

	h.logger.Info("client authenticated",
		"conn_id", client.ID(),
		"user_id", identity.UserID,
		"role", identity.Role,
	)
	return true
}

// register adds an authenticated connection to the registry. The first-
// connection check is atomic with the insertion, so concurrent tabs of the
// same user produce exactly one online announcement.
func (h *Hub) register(client *Client) {
	identity := client.Identity()

	h.mu.Lock()
	first := len(h.clients[identity.UserID]) == 0
	if h.clients[identity.UserID] == nil {
		h.clients[identity.UserID] = make(map[*Client]bool)
	}
	h.clients[identity.UserID][client] = true
	h.mu.Unlock()

	if first {
		h.presence.Announce(context.Background(), identity, true)
	}
}

// Unregister removes a connection from the registry and from every room it
// had joined. Safe to call for connections that never authenticated. The
// last-connection check is atomic with the removal: no offline announcement
// while other tabs remain, and never more than one per actual transition.
func (h *Hub) Unregister(client *Client) {
	identity := client.Identity()

	h.mu.Lock()
	last := false
	if identity != nil {
		if conns, ok := h.clients[identity.UserID]; ok {
			delete(conns, client)
			if len(conns) == 0 {
				delete(h.clients, identity.UserID)
				last = true
			}
		}
	}

	for _, roomID := range client.Rooms() {
		if room, ok := h.rooms[roomID]; ok {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	h.mu.Unlock()

	close(client.send)

	if last {
		h.presence.Announce(context.Background(), identity, false)
	}

	h.logger.Debug("client disconnected", "conn_id", client.ID())
}

// handleJoin subscribes the connection to a room. Idempotent; the ack goes to
// the requesting connection only. Conversation-level access control happens
// in the backend before a conversation id ever reaches a client, so none is
// re-checked here.
func (h *Hub) handleJoin(client *Client, payload json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		client.sendError(CodeInvalidRequest, "conversation_id is required")
		return
	}

	client.JoinRoom(p.ConversationID)

	h.mu.Lock()
	if h.rooms[p.ConversationID] == nil {
		h.rooms[p.ConversationID] = make(map[*Client]bool)
	}
	h.rooms[p.ConversationID][client] = true
	h.mu.Unlock()

	frame, _ := NewFrame(EventJoined, JoinedPayload{ConversationID: p.ConversationID})
	_ = client.Send(frame)

	h.logger.Debug("client joined room", "conn_id", client.ID(), "conversation_id", p.ConversationID)
}

// handleLeave unsubscribes the connection from a room. Idempotent and
// silent; leaving a room never joined is a no-op.
func (h *Hub) handleLeave(client *Client, payload json.RawMessage) {
	var p LeavePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		return
	}

	client.LeaveRoom(p.ConversationID)

	h.mu.Lock()
	if room, ok := h.rooms[p.ConversationID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, p.ConversationID)
		}
	}
	h.mu.Unlock()
}

// handleSendMessage persists the message through the backend, then
// broadcasts the backend's canonical record so all room members see an
// identical, authoritative copy. Nothing is broadcast on failure.
func (h *Hub) handleSendMessage(ctx context.Context, client *Client, payload json.RawMessage) {
	var p SendMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError(CodeInvalidRequest, "invalid message payload")
		return
	}
	if p.ConversationID == "" || p.Content == "" {
		client.sendError(CodeInvalidRequest, "conversation_id and content are required")
		return
	}

	// Suspension point: runs on the connection's goroutine, no hub lock held.
	record, err := h.store.CreateMessage(ctx, p.ConversationID, p.Content, client.Identity())
	if err != nil {
		h.logger.Error("message persistence failed",
			"conn_id", client.ID(),
			"conversation_id", p.ConversationID,
			"error", err,
		)
		client.sendError(CodePersistenceFailed, "message could not be saved")
		return
	}

	h.broadcastToRoom(record.ConversationID, EventNewMessage, record)

	ack, _ := NewFrame(EventMessageSent, MessageSentPayload{
		MessageID: record.ID,
		CreatedAt: record.CreatedAt,
	})
	_ = client.Send(ack)
}

// handleTyping relays a typing signal to other room members, sender
// excluded. Best-effort: no persistence, no ack, dropped signals are fine.
func (h *Hub) handleTyping(client *Client, payload json.RawMessage, start bool) {
	var p TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		return
	}

	identity := client.Identity()
	event := EventUserTyping
	if !start {
		event = EventUserStoppedTyping
	}

	h.broadcastToRoomExcept(p.ConversationID, client, event, TypingBroadcastPayload{
		ConversationID: p.ConversationID,
		UserID:         identity.UserID,
		DisplayName:    identity.DisplayName,
	})
}

// broadcastToRoom delivers a frame to every connection subscribed to a room.
// Enqueues under the lock: sends are non-blocking buffered-channel writes,
// and serializing them keeps per-room delivery order identical across
// subscribers.
func (h *Hub) broadcastToRoom(roomID string, eventType string, payload interface{}) {
	frame, err := NewFrame(eventType, payload)
	if err != nil {
		h.logger.Error("failed to create broadcast frame", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[roomID] {
		_ = client.Send(frame)
	}
}

// broadcastToRoomExcept delivers to all room members except one
func (h *Hub) broadcastToRoomExcept(roomID string, except *Client, eventType string, payload interface{}) {
	frame, err := NewFrame(eventType, payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[roomID] {
		if client != except {
			_ = client.Send(frame)
		}
	}
}

// broadcastToAll delivers a frame to every registered connection
func (h *Hub) broadcastToAll(eventType string, payload interface{}) {
	frame, err := NewFrame(eventType, payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conns := range h.clients {
		for client := range conns {
			_ = client.Send(frame)
		}
	}
}

// OnlineUserIDs returns the ids of all users with at least one live
// connection, sorted for stable output.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsUserOnline checks whether a user has any live connections
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Counts returns the number of online users and live connections
func (h *Hub) Counts() (users, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users = len(h.clients)
	for _, conns := range h.clients {
		connections += len(conns)
	}
	return users, connections
}

// Shutdown closes every live connection. Each close runs the normal
// disconnect path through the read pump's deferred unregister.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, conns := range h.clients {
		for client := range conns {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			_ = client.conn.Close()
		}
	}
}

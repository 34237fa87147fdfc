package ws

import (
	"encoding/json"
	"time"
)

// Event types for client -> server
const (
	EventAuth        = "auth"
	EventJoin        = "join-conversation"
	EventLeave       = "leave-conversation"
	EventSendMessage = "send-message"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
)

// Event types for server -> client
const (
	EventError             = "error"
	EventAuthSuccess       = "auth-success"
	EventJoined            = "conversation-joined"
	EventNewMessage        = "new-message"
	EventMessageSent       = "message-sent"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
)

// Error codes carried in ErrorPayload
const (
	CodeAuthFailed        = "auth_failed"
	CodeNotAuthenticated  = "not_authenticated"
	CodeInvalidRequest    = "invalid_request"
	CodePersistenceFailed = "persistence_failed"
	CodeUnknownEvent      = "unknown_event"
)

// Frame is the wire envelope for every event in both directions
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewFrame creates a frame with the current timestamp
func NewFrame(eventType string, payload interface{}) (*Frame, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// AuthPayload carries the bearer token in the handshake frame
type AuthPayload struct {
	Token string `json:"token"`
}

// JoinPayload for subscribing to a conversation room
type JoinPayload struct {
	ConversationID string `json:"conversation_id"`
}

// LeavePayload for unsubscribing from a conversation room
type LeavePayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload for relaying a chat message
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// TypingPayload for typing indicators
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// AuthSuccessPayload confirms successful authentication
type AuthSuccessPayload struct {
	UserID      string `json:"user_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
}

// JoinedPayload acknowledges a room join to the requesting connection only
type JoinedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessageSentPayload is the sender-only delivery ack, letting the UI
// reconcile its optimistic local echo with the persisted record
type MessageSentPayload struct {
	MessageID string    `json:"message_id"`
	CreatedAt time.Time `json:"timestamp"`
}

// TypingBroadcastPayload announces typing state to other room members
type TypingBroadcastPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	DisplayName    string `json:"display_name"`
}

// PresencePayload announces an online/offline transition
type PresencePayload struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Online      bool   `json:"online"`
}

// Package pubsub provides the fan-out bus the relay uses for presence
// announcements. The default in-memory implementation suits a single relay
// process; the Redis implementation lets several instances share presence.
package pubsub

import (
	"context"
	"encoding/json"
)

// Message is a bus message with a typed payload.
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for processing messages.
type Handler func(ctx context.Context, msg *Message)

// Subscription is an active subscription that can be closed.
type Subscription interface {
	Unsubscribe() error
}

// PubSub defines publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	// Returns a Subscription used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the bus and releases resources.
	Close() error
}

// TopicBuilder constructs consistent topic names.
type TopicBuilder struct{}

// Presence returns the topic for online/offline announcements.
func (t TopicBuilder) Presence() string {
	return "presence"
}

// User returns the topic for events addressed to one user's connections.
func (t TopicBuilder) User(userID string) string {
	return "user:" + userID
}

// Topics is a helper for building topic names.
var Topics = TopicBuilder{}

package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hirebridge/relay/internal/auth"
	"github.com/hirebridge/relay/internal/pubsub"
)

// PresenceBroadcaster republishes the hub's registry transitions on the
// presence topic. It holds no state of its own: presence is derived only
// from registry mutations, never by polling, so what is reported can't
// diverge from who is actually connected.
type PresenceBroadcaster struct {
	bus    pubsub.PubSub
	logger *slog.Logger
}

// NewPresenceBroadcaster creates a broadcaster over the given bus
func NewPresenceBroadcaster(bus pubsub.PubSub, logger *slog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{
		bus:    bus,
		logger: logger.With("component", "presence"),
	}
}

// Announce publishes one online/offline transition. Best-effort: a lost
// announcement is not retried.
func (b *PresenceBroadcaster) Announce(ctx context.Context, identity *auth.Identity, online bool) {
	payload, err := json.Marshal(PresencePayload{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Online:      online,
	})
	if err != nil {
		b.logger.Error("failed to marshal presence payload", "error", err)
		return
	}

	event := EventUserOnline
	if !online {
		event = EventUserOffline
	}

	msg := &pubsub.Message{
		Topic:   pubsub.Topics.Presence(),
		Type:    event,
		Payload: payload,
	}
	if err := b.bus.Publish(ctx, msg.Topic, msg); err != nil {
		b.logger.Error("failed to publish presence", "user_id", identity.UserID, "error", err)
	}
}

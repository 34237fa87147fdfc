// Package backend is the client for the platform's REST backend, which owns
// message persistence. The relay never stores messages itself: it forwards a
// send request here and broadcasts whatever canonical record comes back.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hirebridge/relay/internal/auth"
)

// ErrPersistence covers every failure of the persistence call: backend
// unreachable, non-2xx response, malformed body. The relay reports them all
// the same way (error to the sender, no broadcast, no retry).
var ErrPersistence = errors.New("backend: persistence failed")

// maxErrorBodySize caps how much of a backend error response we read
const maxErrorBodySize = 4096

// MessageRecord is the canonical persisted message as returned by the
// backend. This exact record is what room members receive; the relay never
// broadcasts its own unconfirmed copy.
type MessageRecord struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderRole     string    `json:"sender_role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Client talks to the backend messages endpoint.
type Client struct {
	messagesURL string
	client      *http.Client
	logger      *slog.Logger
}

// NewClient creates a backend client for the given messages endpoint.
func NewClient(messagesURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		messagesURL: messagesURL,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With("component", "backend"),
	}
}

type createMessageRequest struct {
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	Sender         *auth.Identity `json:"sender"`
}

// CreateMessage persists a message and returns the canonical record. One
// POST, no retry: a retry with unknown persistence outcome risks duplicates,
// so that decision is left to the client UI.
func (c *Client) CreateMessage(ctx context.Context, conversationID, content string, sender *auth.Identity) (*MessageRecord, error) {
	body, err := json.Marshal(createMessageRequest{
		ConversationID: conversationID,
		Content:        content,
		Sender:         sender,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: backend unreachable: %v", ErrPersistence, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.logger.Warn("backend rejected message",
			"status", resp.StatusCode,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrPersistence, resp.StatusCode, errBody)
	}

	var record MessageRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: decode message record: %v", ErrPersistence, err)
	}
	if record.ID == "" {
		return nil, fmt.Errorf("%w: message record missing id", ErrPersistence)
	}

	return &record, nil
}

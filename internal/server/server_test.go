package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirebridge/relay/internal/auth"
	"github.com/hirebridge/relay/internal/backend"
	"github.com/hirebridge/relay/internal/config"
	"github.com/hirebridge/relay/internal/pubsub"
	"github.com/hirebridge/relay/internal/ws"
)

const testSigningKey = "server-test-signing-key-0123456789abcdef"

type stubStore struct{}

func (stubStore) CreateMessage(_ context.Context, conversationID, content string, sender *auth.Identity) (*backend.MessageRecord, error) {
	return &backend.MessageRecord{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		SenderName:     sender.DisplayName,
		SenderRole:     sender.Role,
		Content:        content,
		CreatedAt:      time.Now(),
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *auth.JWTVerifier) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifier, err := auth.NewJWTVerifier(testSigningKey)
	require.NoError(t, err)

	bus := pubsub.NewMemoryPubSub()
	t.Cleanup(func() { bus.Close() })

	hub := ws.NewHub(verifier, stubStore{}, bus, logger)

	cfg := &config.Config{
		ServerAddr:         "127.0.0.1:0",
		Env:                "development",
		AppBaseURL:         "http://localhost:5173",
		BackendMessagesURL: "http://backend.invalid/messages",
		AuthMode:           config.AuthModeLocal,
		JWTSigningKey:      testSigningKey,
		PubSubType:         "memory",
	}

	srv := New(cfg, &Dependencies{
		Hub:       hub,
		WSHandler: ws.NewHandler(hub, nil, "", logger),
		Logger:    logger,
	})

	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, verifier
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	frame, err := ws.NewFrame(eventType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) *ws.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	// Frames may be batched newline-separated into one websocket message;
	// these tests only ever expect one at a time
	line := strings.SplitN(string(data), "\n", 2)[0]
	var f ws.Frame
	require.NoError(t, json.Unmarshal([]byte(line), &f))
	return &f
}

func authenticate(t *testing.T, conn *websocket.Conn, verifier *auth.JWTVerifier, identity *auth.Identity) {
	t.Helper()
	token, err := verifier.Generate(identity)
	require.NoError(t, err)

	writeFrame(t, conn, ws.EventAuth, ws.AuthPayload{Token: token})

	f := readFrame(t, conn)
	require.Equal(t, ws.EventAuthSuccess, f.Type)
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestServer_Healthz(t *testing.T) {
	ts, _ := newTestServer(t)

	var body struct {
		Status      string `json:"status"`
		OnlineUsers int    `json:"online_users"`
		Connections int    `json:"connections"`
	}
	resp := getJSON(t, ts.URL+"/healthz", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "ok", body.Status)
	assert.Zero(t, body.OnlineUsers)
	assert.Zero(t, body.Connections)
}

func TestServer_PresenceOnline_ReflectsConnections(t *testing.T) {
	ts, verifier := newTestServer(t)

	conn := dialWS(t, ts)
	authenticate(t, conn, verifier, &auth.Identity{
		UserID: "user-42", Role: "recruiter", DisplayName: "Dana",
	})

	var presence struct {
		UserIDs []string `json:"user_ids"`
	}
	getJSON(t, ts.URL+"/presence/online", &presence)
	assert.Equal(t, []string{"user-42"}, presence.UserIDs)

	var health struct {
		OnlineUsers int `json:"online_users"`
		Connections int `json:"connections"`
	}
	getJSON(t, ts.URL+"/healthz", &health)
	assert.Equal(t, 1, health.OnlineUsers)
	assert.Equal(t, 1, health.Connections)
}

func TestServer_WebSocket_MessageRoundTrip(t *testing.T) {
	ts, verifier := newTestServer(t)

	conn := dialWS(t, ts)
	authenticate(t, conn, verifier, &auth.Identity{
		UserID: "user-42", Role: "recruiter", DisplayName: "Dana",
	})

	writeFrame(t, conn, ws.EventJoin, ws.JoinPayload{ConversationID: "conv-9"})
	joined := readFrame(t, conn)
	require.Equal(t, ws.EventJoined, joined.Type)

	writeFrame(t, conn, ws.EventSendMessage, ws.SendMessagePayload{
		ConversationID: "conv-9",
		Content:        "hello from the wire",
	})

	// Sender is a room member, so the broadcast arrives first, then the ack.
	// Both may share one websocket message; read frames until both are seen.
	var sawNewMessage, sawAck bool
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for !sawNewMessage || !sawAck {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range strings.Split(string(data), "\n") {
			var f ws.Frame
			require.NoError(t, json.Unmarshal([]byte(line), &f))
			switch f.Type {
			case ws.EventNewMessage:
				var rec backend.MessageRecord
				require.NoError(t, json.Unmarshal(f.Payload, &rec))
				assert.Equal(t, "hello from the wire", rec.Content)
				assert.Equal(t, "user-42", rec.SenderID)
				sawNewMessage = true
			case ws.EventMessageSent:
				sawAck = true
			default:
				t.Fatalf("unexpected frame type %q", f.Type)
			}
		}
	}
}

func TestServer_WebSocket_BadTokenClosesConnection(t *testing.T) {
	ts, _ := newTestServer(t)

	conn := dialWS(t, ts)
	writeFrame(t, conn, ws.EventAuth, ws.AuthPayload{Token: "not-a-jwt"})

	f := readFrame(t, conn)
	require.Equal(t, ws.EventError, f.Type)

	var p ws.ErrorPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, ws.CodeAuthFailed, p.Code)

	// The server terminates the connection after the error frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestServer_RequestID_EchoesProvided(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "req-abc-123", resp.Header.Get("X-Request-ID"))
}

func TestServer_RequestID_GeneratedWhenMissing(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServer_CORS_DevelopmentAllowsAnyOrigin(t *testing.T) {
	ts, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/healthz", nil)
	req.Header.Set("Origin", "http://random-dev-host:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://random-dev-host:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

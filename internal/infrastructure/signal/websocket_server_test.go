package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/repositories/memory"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type serverFixture struct {
	server   *WebSocketServer
	registry *services.RoomRegistry
	http     *httptest.Server
}

func newServerFixture(t *testing.T, cfg ServerConfig, tokens TokenValidator) *serverFixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	registry := services.NewRoomRegistry(memory.NewMemoryCommentRepository(), time.Second, logger)
	router := NewRouter(registry, NewBroadcaster(nil, logger), nil, RouterConfig{EchoComments: true}, nil, logger)
	server := NewWebSocketServer(context.Background(), router, tokens, cfg, nil, logger)

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		ts.Close()
	})
	return &serverFixture{server: server, registry: registry, http: ts}
}

func (f *serverFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(v)))
}

// readType reads frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ FrameType) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind != websocket.TextMessage {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		if m["type"] == string(typ) {
			return m
		}
	}
}

func TestWebSocketServer_Scenario(t *testing.T) {
	f := newServerFixture(t, ServerConfig{Connection: DefaultConnectionConfig()}, nil)

	a := f.dial(t, "")
	sendJSON(t, a, `{"type":"create-room","roomId":"r1"}`)
	assert.Equal(t, map[string]any{"type": "room-created", "roomId": "r1"}, readType(t, a, TypeRoomCreated))

	b := f.dial(t, "")
	sendJSON(t, b, `{"type":"join-room","roomId":"r1"}`)
	joined := readType(t, b, TypeRoomJoined)
	assert.Equal(t, true, joined["success"])
	history := readType(t, b, TypeComments)
	assert.Equal(t, []any{}, history["comments"])

	sendJSON(t, a, `{"type":"comment","roomId":"r1","text":"hi"}`)
	comment := readType(t, b, TypeComment)
	assert.Equal(t, "hi", comment["text"])

	require.NoError(t, a.Close())
	closed := readType(t, b, TypeRoomClosed)
	assert.Equal(t, "r1", closed["roomId"])

	assert.Eventually(t, func() bool {
		_, ok := f.registry.GetRoom("r1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	c := f.dial(t, "")
	sendJSON(t, c, `{"type":"join-room","roomId":"r1"}`)
	assert.Equal(t, "ROOM_NOT_FOUND", readType(t, c, TypeError)["code"])
}

func TestWebSocketServer_StreamDataRelay(t *testing.T) {
	f := newServerFixture(t, ServerConfig{Connection: DefaultConnectionConfig()}, nil)

	streamer := f.dial(t, "?roomId=live&role=streamer")
	readType(t, streamer, TypeRoomCreated)
	viewer := f.dial(t, "?roomId=live")
	readType(t, viewer, TypeComments)

	payload := []byte{1, 2, 3, 4}
	require.NoError(t, streamer.WriteMessage(websocket.BinaryMessage, payload))

	require.NoError(t, viewer.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := viewer.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, payload, data)
}

func TestWebSocketServer_ReapsSilentPeer(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.MaxMissedPings = 2
	f := newServerFixture(t, ServerConfig{Connection: cfg}, nil)

	// A client that never reads never answers pings.
	f.dial(t, "?roomId=quiet&role=streamer")

	assert.Eventually(t, func() bool {
		return f.server.ConnectionCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		return f.server.ConnectionCount() == 0 && f.registry.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

type staticTokens struct{}

func (staticTokens) ValidateToken(token string) (*services.Claims, error) {
	if token != "good" {
		return nil, services.ErrInvalidToken
	}
	return &services.Claims{UserID: "u1", Username: "val", Role: domain.UserRoleViewer}, nil
}

func TestWebSocketServer_TokenGate(t *testing.T) {
	f := newServerFixture(t, ServerConfig{Connection: DefaultConnectionConfig(), RequireToken: true}, staticTokens{})
	base := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=bad", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := f.dial(t, "?token=good")
	sendJSON(t, conn, `{"type":"create-room"}`)
	assert.Equal(t, "UNAUTHORIZED", readType(t, conn, TypeError)["code"])
}

func TestWebSocketServer_CheckOrigin(t *testing.T) {
	f := newServerFixture(t, ServerConfig{
		Connection:     DefaultConnectionConfig(),
		AllowedOrigins: []string{"https://relay.example"},
	}, nil)
	base := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base, http.Header{"Origin": {"https://relay.example"}})
	require.NoError(t, err)
	conn.Close()
}

func TestWebSocketServer_ShutdownDrainsRooms(t *testing.T) {
	f := newServerFixture(t, ServerConfig{Connection: DefaultConnectionConfig()}, nil)

	streamer := f.dial(t, "?roomId=r1&role=streamer")
	readType(t, streamer, TypeRoomCreated)
	viewer := f.dial(t, "?roomId=r1")
	readType(t, viewer, TypeComments)
	idle := f.dial(t, "")
	assert.Eventually(t, func() bool { return f.server.ConnectionCount() == 3 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.server.Shutdown(ctx))

	assert.Equal(t, "shutdown", readType(t, viewer, TypeRoomClosed)["reason"])
	assert.Equal(t, 0, f.server.ConnectionCount())

	require.NoError(t, idle.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := idle.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/internal/infrastructure/repositories/memory"
	"roomrelay/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type apiFixture struct {
	engine   *gin.Engine
	registry *services.RoomRegistry
	comments ports.CommentRepository
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()

	var comments ports.CommentRepository = memory.NewMemoryCommentRepository()
	registry := services.NewRoomRegistry(comments, time.Second, logger)
	auth := services.NewAuthService("test-secret", 15*time.Minute, time.Hour)
	credentials := services.NewCredentialService(memory.NewMemoryUserRepository(), bcrypt.MinCost, logger)

	engine := gin.New()
	engine.Use(middleware.ErrorHandlerMiddleware(logger))
	NewAuthHandler(auth, credentials, 15*time.Minute).SetupRoutes(engine)
	NewRoomHandler(registry, comments, auth, []config.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "p"},
	}).SetupRoutes(engine)

	return &apiFixture{engine: engine, registry: registry, comments: comments}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (f *apiFixture) register(t *testing.T, username, email string, role domain.UserRole) map[string]any {
	t.Helper()
	w, body := f.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"username": username,
		"email":    email,
		"password": "secret123",
		"role":     role,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, body)
	return body
}

func TestAuthHandler_RegisterLoginRefresh(t *testing.T) {
	f := newAPIFixture(t)

	reg := f.register(t, "sam", "Sam@Example.com", domain.UserRoleStreamer)
	assert.Equal(t, "streamer", reg["role"])
	assert.NotEmpty(t, reg["access_token"])
	assert.NotEmpty(t, reg["refresh_token"])
	assert.EqualValues(t, 900, reg["expires_in"])

	t.Run("duplicate email", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
			"username": "other", "email": "sam@example.com", "password": "secret123",
		}, "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "CONFLICT", body["error"])
	})

	t.Run("invalid input", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
			"username": "x", "email": "not-an-email", "password": "secret123",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_INPUT", body["error"])

		w, _ = f.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
			"username": "valid", "email": "v@example.com", "password": "secret123", "role": "admin",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("login", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
			"email": "sam@example.com", "password": "secret123",
		}, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "sam", body["username"])
		assert.Equal(t, "streamer", body["role"])

		w, body = f.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
			"email": "sam@example.com", "password": "wrong-password",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", body["error"])
	})

	t.Run("refresh", func(t *testing.T) {
		w, body := f.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{
			"refresh_token": reg["refresh_token"],
		}, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, body["access_token"])
		assert.Nil(t, body["refresh_token"])

		w, _ = f.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{
			"refresh_token": reg["access_token"],
		}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRoomHandler_CreateRequiresStreamer(t *testing.T) {
	f := newAPIFixture(t)
	streamer := f.register(t, "sam", "sam@example.com", domain.UserRoleStreamer)
	viewer := f.register(t, "val", "val@example.com", domain.UserRoleViewer)

	w, _ := f.do(t, http.MethodPost, "/api/v1/rooms", gin.H{"room_id": "r1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = f.do(t, http.MethodPost, "/api/v1/rooms", gin.H{"room_id": "r1"}, viewer["access_token"].(string))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := f.do(t, http.MethodPost, "/api/v1/rooms", gin.H{"room_id": "r1"}, streamer["access_token"].(string))
	require.Equal(t, http.StatusCreated, w.Code)
	room := body["room"].(map[string]any)
	assert.Equal(t, "r1", room["id"])
	assert.Equal(t, "forming", room["state"])
	assert.Equal(t, false, room["has_streamer"])

	w, body = f.do(t, http.MethodPost, "/api/v1/rooms", gin.H{"room_id": "r1"}, streamer["access_token"].(string))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", body["error"])

	w, body = f.do(t, http.MethodPost, "/api/v1/rooms", nil, streamer["access_token"].(string))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, body["room"].(map[string]any)["id"])

	w, _ = f.do(t, http.MethodPost, "/api/v1/rooms", gin.H{"room_id": "bad id"}, streamer["access_token"].(string))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomHandler_ReadAPIs(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	_, err := f.registry.CreateRoom(ctx, "r1")
	require.NoError(t, err)
	require.NoError(t, f.comments.AppendComment(ctx, "r1", domain.Comment{ID: "c1", Author: "a", Text: "hi", Timestamp: time.Now()}))

	w, body := f.do(t, http.MethodGet, "/api/v1/rooms", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = f.do(t, http.MethodGet, "/api/v1/rooms/r1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", body["room"].(map[string]any)["id"])

	w, body = f.do(t, http.MethodGet, "/api/v1/rooms/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ROOM_NOT_FOUND", body["error"])

	w, body = f.do(t, http.MethodGet, "/api/v1/rooms/r1/comments", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	comments := body["comments"].([]any)
	require.Len(t, comments, 1)
	assert.Equal(t, "hi", comments[0].(map[string]any)["text"])

	w, body = f.do(t, http.MethodGet, "/api/v1/rooms/never/comments", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["comments"])
}

func TestRoomHandler_ICEServers(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/ice-servers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	servers := body["ice_servers"].([]any)
	require.Len(t, servers, 2)

	stun := servers[0].(map[string]any)
	assert.Equal(t, []any{"stun:stun.l.google.com:19302"}, stun["urls"])
	assert.Nil(t, stun["username"])

	turn := servers[1].(map[string]any)
	assert.Equal(t, "u", turn["username"])
	assert.Equal(t, "p", turn["credential"])
}

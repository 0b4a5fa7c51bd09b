package http

import (
	"context"
	"net/http"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/services"
	"roomrelay/internal/infrastructure/middleware"
	"roomrelay/pkg/config"
	"roomrelay/pkg/errors"
	"roomrelay/pkg/validation"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
)

// CommentReader is the read side of the comment store.
type CommentReader interface {
	LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error)
}

// RoomHandler serves the read APIs over the room registry and the comment
// store, plus REST room pre-creation for streamers.
type RoomHandler struct {
	registry    *services.RoomRegistry
	comments    CommentReader
	authService services.AuthService
	iceServers  []webrtc.ICEServer
}

func NewRoomHandler(
	registry *services.RoomRegistry,
	comments CommentReader,
	authService services.AuthService,
	iceServers []config.ICEServer,
) *RoomHandler {
	return &RoomHandler{
		registry:    registry,
		comments:    comments,
		authService: authService,
		iceServers:  toWebRTCServers(iceServers),
	}
}

func toWebRTCServers(servers []config.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
			server.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, server)
	}
	return out
}

func (h *RoomHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/rooms",
			middleware.AuthMiddleware(h.authService),
			middleware.RequireRole(domain.UserRoleStreamer),
			h.CreateRoom,
		)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id", h.GetRoom)
		api.GET("/rooms/:id/comments", h.GetComments)
		api.GET("/ice-servers", h.GetICEServers)
	}
}

type CreateRoomRequest struct {
	RoomID domain.RoomID `json:"room_id"`
}

// CreateRoom pre-creates a forming room. The caller binds to it as
// streamer over the websocket.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errors.NewInvalidInputError("invalid request format"))
			return
		}
	}
	if req.RoomID != "" {
		if err := validation.ValidateRoomID(string(req.RoomID)); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	room, err := h.registry.CreateRoom(c.Request.Context(), req.RoomID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"room": room.Summary(),
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms := h.registry.List()
	c.JSON(http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, ok := h.registry.GetRoom(domain.RoomID(c.Param("id")))
	if !ok {
		c.Error(domain.ErrRoomNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"room": room.Summary(),
	})
}

// GetComments serves the comment log, including rooms that have closed.
func (h *RoomHandler) GetComments(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))
	if err := validation.ValidateRoomID(string(roomID)); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	comments, err := h.comments.LoadComments(c.Request.Context(), roomID)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodePersistenceFailure, "failed to load comments", http.StatusServiceUnavailable))
		return
	}
	if comments == nil {
		comments = []domain.Comment{}
	}

	c.JSON(http.StatusOK, gin.H{
		"room_id":  roomID,
		"comments": comments,
	})
}

func (h *RoomHandler) GetICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ice_servers": h.iceServers,
	})
}

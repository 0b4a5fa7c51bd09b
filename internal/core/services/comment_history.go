package services

import (
	"context"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/pkg/cache"
)

// CommentHistory serves comment logs to the read API. Rooms still in the
// registry answer from memory; closed rooms are read from the store and
// cached for ttl.
type CommentHistory struct {
	registry *RoomRegistry
	store    ports.CommentRepository
	cache    *cache.Cache[domain.RoomID, []domain.Comment]
}

func NewCommentHistory(registry *RoomRegistry, store ports.CommentRepository, ttl time.Duration) *CommentHistory {
	return &CommentHistory{
		registry: registry,
		store:    store,
		cache:    cache.New[domain.RoomID, []domain.Comment](ttl),
	}
}

func (h *CommentHistory) LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	if room, ok := h.registry.GetRoom(roomID); ok {
		h.cache.Delete(roomID)
		return room.Comments(), nil
	}
	return h.cache.GetOrLoad(ctx, roomID, func(ctx context.Context) ([]domain.Comment, error) {
		return h.store.LoadComments(ctx, roomID)
	})
}

func (h *CommentHistory) Stop() {
	h.cache.Stop()
}

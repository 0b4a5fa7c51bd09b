package ports

import (
	"context"

	"roomrelay/internal/core/domain"
)

// CommentRepository is the durable, append-only comment log keyed by room.
// Appending to a room that was never written creates it.
type CommentRepository interface {
	AppendComment(ctx context.Context, roomID domain.RoomID, comment domain.Comment) error
	LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error)
}

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
}

type RoomEventPublisher interface {
	PublishRoomEvent(ctx context.Context, event domain.RoomEvent) error
}

package memory

import (
	"context"
	"sync"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
)

type MemoryCommentRepository struct {
	comments map[domain.RoomID][]domain.Comment
	mu       sync.RWMutex
}

func NewMemoryCommentRepository() ports.CommentRepository {
	return &MemoryCommentRepository{
		comments: make(map[domain.RoomID][]domain.Comment),
	}
}

func (r *MemoryCommentRepository) AppendComment(ctx context.Context, roomID domain.RoomID, comment domain.Comment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	comment.RoomID = roomID
	r.comments[roomID] = append(r.comments[roomID], comment)
	return nil
}

func (r *MemoryCommentRepository) LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.Comment(nil), r.comments[roomID]...), nil
}

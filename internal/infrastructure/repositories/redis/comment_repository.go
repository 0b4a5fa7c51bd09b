package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisCommentRepository stores each room's comment log as a redis list of
// JSON entries, oldest first.
type RedisCommentRepository struct {
	client *redis.Client
}

func NewRedisCommentRepository(client *redis.Client) ports.CommentRepository {
	return &RedisCommentRepository{client: client}
}

func (r *RedisCommentRepository) AppendComment(ctx context.Context, roomID domain.RoomID, comment domain.Comment) error {
	data, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("failed to marshal comment: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, commentsKey(roomID), data)
	pipe.SAdd(ctx, commentRoomsKey(), string(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append comment in Redis: %w", err)
	}
	return nil
}

func (r *RedisCommentRepository) LoadComments(ctx context.Context, roomID domain.RoomID) ([]domain.Comment, error) {
	entries, err := r.client.LRange(ctx, commentsKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load comments from Redis: %w", err)
	}

	comments := make([]domain.Comment, 0, len(entries))
	for _, entry := range entries {
		var c domain.Comment
		if err := json.Unmarshal([]byte(entry), &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal comment: %w", err)
		}
		c.RoomID = roomID
		comments = append(comments, c)
	}
	return comments, nil
}

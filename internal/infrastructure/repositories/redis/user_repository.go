package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisUserRepository struct {
	client *redis.Client
}

func NewRedisUserRepository(client *redis.Client) ports.UserRepository {
	return &RedisUserRepository{client: client}
}

func (r *RedisUserRepository) Create(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	// The email index doubles as the uniqueness guard.
	ok, err := r.client.SetNX(ctx, userEmailKey(strings.ToLower(user.Email)), string(user.ID), 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve user email in Redis: %w", err)
	}
	if !ok {
		return domain.ErrUserExists
	}

	if err := r.client.Set(ctx, userKey(user.ID), data, 0).Err(); err != nil {
		r.client.Del(ctx, userEmailKey(strings.ToLower(user.Email)))
		return fmt.Errorf("failed to set user in Redis: %w", err)
	}
	return nil
}

func (r *RedisUserRepository) GetByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	data, err := r.client.Get(ctx, userKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Redis: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}

func (r *RedisUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	id, err := r.client.Get(ctx, userEmailKey(strings.ToLower(email))).Result()
	if err == redis.Nil {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user email index from Redis: %w", err)
	}
	return r.GetByID(ctx, domain.UserID(id))
}

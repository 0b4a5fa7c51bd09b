package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/pkg/config"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to ROOMRELAY_TEST_REDIS or skips.
func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("ROOMRELAY_TEST_REDIS")
	if addr == "" {
		t.Skip("ROOMRELAY_TEST_REDIS not set")
	}
	cfg := config.DefaultConfig()
	cfg.Redis.Address = addr
	cfg.Redis.DB = 15
	cfg.Redis.PoolSize = 5
	client, err := Connect(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCommentRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewRedisCommentRepository(client)
	ctx := context.Background()
	roomID := domain.RoomID("test-" + uuid.NewString())
	t.Cleanup(func() {
		client.Del(ctx, commentsKey(roomID))
		client.SRem(ctx, commentRoomsKey(), string(roomID))
	})

	empty, err := repo.LoadComments(ctx, roomID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.AppendComment(ctx, roomID, domain.Comment{ID: "1", Author: "c1", Text: "hi", Timestamp: now}))
	require.NoError(t, repo.AppendComment(ctx, roomID, domain.Comment{ID: "2", Author: "c2", Text: "yo", Timestamp: now}))

	comments, err := repo.LoadComments(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "hi", comments[0].Text)
	assert.Equal(t, "yo", comments[1].Text)
	assert.Equal(t, roomID, comments[1].RoomID)
	assert.True(t, now.Equal(comments[0].Timestamp))

	member, err := client.SIsMember(ctx, commentRoomsKey(), string(roomID)).Result()
	require.NoError(t, err)
	assert.True(t, member)
}

func TestRedisUserRepository(t *testing.T) {
	client := newTestClient(t)
	repo := NewRedisUserRepository(client)
	ctx := context.Background()

	id := domain.UserID(uuid.NewString())
	email := string(id) + "@example.com"
	t.Cleanup(func() {
		client.Del(ctx, userKey(id), userEmailKey(email))
	})

	require.NoError(t, repo.Create(ctx, &domain.User{ID: id, Username: "alice", Email: email, Role: domain.UserRoleViewer}))
	assert.ErrorIs(t, repo.Create(ctx, &domain.User{ID: "other", Email: email}), domain.ErrUserExists)

	got, err := repo.GetByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = repo.GetByID(ctx, "missing-"+id)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestClientOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Address = "redis:6380"
	cfg.Redis.Password = "secret"
	cfg.Redis.DB = 2
	cfg.Redis.PoolSize = 3
	cfg.Persistence.OperationTimeout = 750 * time.Millisecond

	opts := clientOptions(cfg)
	assert.Equal(t, "redis:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 3, opts.PoolSize)
	assert.Equal(t, 3, opts.MinIdleConns)
	assert.Equal(t, 750*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 750*time.Millisecond, opts.DialTimeout)

	cfg.Persistence.OperationTimeout = 0
	cfg.Redis.PoolSize = 20
	opts = clientOptions(cfg)
	assert.Equal(t, maxIdleConns, opts.MinIdleConns)
	assert.Equal(t, defaultOpTimeout, opts.WriteTimeout)
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Persistence.OperationTimeout = 200 * time.Millisecond

	client, err := Connect(context.Background(), cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, client)
}

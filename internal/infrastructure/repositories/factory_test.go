package repositories

import (
	"context"
	"path/filepath"
	"testing"

	"roomrelay/internal/core/domain"
	"roomrelay/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRepositoryFactory_Memory(t *testing.T) {
	cfg := config.DefaultConfig()
	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendMemory, f.Backend())
	assert.Nil(t, f.RedisClient())
	assert.NoError(t, f.HealthCheck(context.Background()))

	repo := f.CreateCommentRepository()
	require.NoError(t, repo.AppendComment(context.Background(), "r1", domain.Comment{Text: "hi"}))
	comments, err := repo.LoadComments(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, comments, 1)
}

func TestRepositoryFactory_SQLite(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Persistence.Backend = BackendSQLite
	cfg.Persistence.SQLitePath = filepath.Join(t.TempDir(), "relay.db")

	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendSQLite, f.Backend())
	assert.NoError(t, f.HealthCheck(context.Background()))

	users := f.CreateUserRepository()
	require.NoError(t, users.Create(context.Background(), &domain.User{ID: "u1", Username: "bob", Email: "bob@example.com", Role: domain.UserRoleViewer}))
	_, err = users.GetByEmail(context.Background(), "bob@example.com")
	assert.NoError(t, err)
}

func TestRepositoryFactory_RedisFallsBackToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1"
	cfg.Persistence.Backend = BackendRedis

	f, err := NewRepositoryFactory(context.Background(), cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, BackendMemory, f.Backend())
	assert.Nil(t, f.RedisClient())
}

package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"roomrelay/internal/core/ports"
	"roomrelay/internal/infrastructure/repositories/memory"
	redisrepo "roomrelay/internal/infrastructure/repositories/redis"
	"roomrelay/internal/infrastructure/repositories/sqlite"
	"roomrelay/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// RepositoryFactory picks the persistence backend and falls back to memory
// when redis is configured but unreachable.
type RepositoryFactory struct {
	backend     string
	redisClient *redis.Client
	db          *sql.DB
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend: cfg.Persistence.Backend,
		logger:  logger,
	}

	// The redis client also backs the room event bus, so connect whenever
	// redis is enabled regardless of the persistence backend.
	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Warnw("failed to connect to Redis", "error", err)
		} else {
			factory.redisClient = client
		}
	}

	switch factory.backend {
	case BackendRedis:
		if factory.redisClient == nil {
			logger.Warnw("redis backend unavailable, falling back to memory repositories")
			factory.backend = BackendMemory
		}
	case BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.Persistence.SQLitePath)
		if err != nil {
			factory.Close()
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		factory.db = db
	case BackendMemory:
	default:
		factory.Close()
		return nil, fmt.Errorf("unknown persistence backend %q", factory.backend)
	}

	logger.Infow("persistence backend selected", "backend", factory.backend)
	return factory, nil
}

func (f *RepositoryFactory) Backend() string {
	return f.backend
}

// RedisClient returns the shared redis client, nil when redis is off or
// unreachable.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) CreateCommentRepository() ports.CommentRepository {
	switch f.backend {
	case BackendRedis:
		return redisrepo.NewRedisCommentRepository(f.redisClient)
	case BackendSQLite:
		return sqlite.NewCommentRepository(f.db)
	default:
		return memory.NewMemoryCommentRepository()
	}
}

func (f *RepositoryFactory) CreateUserRepository() ports.UserRepository {
	switch f.backend {
	case BackendRedis:
		return redisrepo.NewRedisUserRepository(f.redisClient)
	case BackendSQLite:
		return sqlite.NewUserRepository(f.db)
	default:
		return memory.NewMemoryUserRepository()
	}
}

// Close releases the redis client and the sqlite handle.
func (f *RepositoryFactory) Close() error {
	var firstErr error
	if f.redisClient != nil {
		firstErr = f.redisClient.Close()
		f.redisClient = nil
	}
	if f.db != nil {
		if err := f.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.db = nil
	}
	return firstErr
}

// HealthCheck pings whichever external store is in use.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	switch f.backend {
	case BackendRedis:
		return f.redisClient.Ping(ctx).Err()
	case BackendSQLite:
		return f.db.PingContext(ctx)
	default:
		return nil
	}
}

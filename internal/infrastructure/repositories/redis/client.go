package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomrelay/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultOpTimeout = 3 * time.Second
	maxIdleConns     = 5
)

// clientOptions derives connection settings from cfg. Socket timeouts
// follow the persistence operation timeout so a slow redis fails a comment
// append before the caller's own deadline does.
func clientOptions(cfg *config.Config) *redis.Options {
	opTimeout := cfg.Persistence.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: min(maxIdleConns, cfg.Redis.PoolSize),
		DialTimeout:  opTimeout,
		ReadTimeout:  opTimeout,
		WriteTimeout: opTimeout,
	}
}

// Connect opens the client shared by the comment store, the user store and
// the room event bus. It fails unless redis answers a ping and the schema
// migrations apply; the client is closed on failure.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*redis.Client, error) {
	opts := clientOptions(cfg)
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err == nil {
		err = Migrate(ctx, client, logger)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("redis %s: %w", opts.Addr, err), client.Close())
	}

	if logger != nil {
		logger.Infow("connected to redis",
			"address", opts.Addr,
			"db", opts.DB,
			"pool_size", opts.PoolSize,
		)
	}
	return client, nil
}

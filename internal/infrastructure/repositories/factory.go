package repositories

import (
	"context"

	"comlink/internal/core/ports"
	"comlink/internal/infrastructure/repositories/memory"
	redisrepo "comlink/internal/infrastructure/repositories/redis"
	"comlink/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory selects the alert archive backend. Redis when configured and
// reachable, in-memory otherwise; an unreachable Redis at startup degrades to
// memory instead of failing the relay.
type Factory struct {
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	factory := &Factory{
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("redis unreachable, falling back to in-memory alert archive", "error", err)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using redis alert archive")
		}
	}

	if !factory.useRedis {
		logger.Info("using in-memory alert archive")
	}
	return factory
}

// CreateAlertRepository builds the alert archive for the selected backend.
func (f *Factory) CreateAlertRepository(historyLimit int) ports.AlertRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisAlertRepository(f.redisClient, historyLimit)
	}
	return memory.NewMemoryAlertRepository(historyLimit)
}

// RedisClient exposes the shared connection for the event bus and health
// probes. Nil when running on the in-memory backend.
func (f *Factory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// HealthCheck pings the backing store.
func (f *Factory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

func (f *Factory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

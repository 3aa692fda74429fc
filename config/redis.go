package config

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ConnectRedis connects to REDIS_ADDR. It returns nil when Redis is not configured or not
// reachable; callers then fall back to in-process locking.
func ConnectRedis(ctx context.Context, cfg *Config, logger logrus.FieldLogger) *redis.Client {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, using in-process locks")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(pingCtx).Result(); err != nil {
		logger.WithError(err).Warn("redis connection failed, using in-process locks")
		_ = client.Close()
		return nil
	}

	logger.WithField("addr", cfg.RedisAddr).Info("connected to Redis")
	return client
}

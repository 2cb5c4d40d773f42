package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/batilieri/multichat-system-sub001/internal/application/port"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds connection settings for the shared deduper
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
	TTL       time.Duration
}

// RedisDeduper marks deliveries as seen across every service replica
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ port.DeliveryDeduper = (*RedisDeduper)(nil)

// NewRedisDeduper connects to Redis and verifies the connection with a ping
func NewRedisDeduper(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	logger.Info("Redis deduper connected", zap.String("addr", cfg.Addr))
	return newRedisDeduper(client, cfg, logger), nil
}

func newRedisDeduper(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisDeduper {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "media:delivery:"
	}
	return &RedisDeduper{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// FirstSeen implements port.DeliveryDeduper
func (d *RedisDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark delivery %s: %w", key, err)
	}
	return ok, nil
}

// Close closes the Redis client
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lodgic/authd/internal/config"
)

var ErrCacheMiss = errors.New("cache miss")

// Service is a thin Redis-backed cache. When caching is disabled every
// read misses and every write is a no-op, so callers never branch on
// availability.
type Service struct {
	client clientInterface
	logger *slog.Logger
	prefix string
}

// clientInterface abstracts the Redis operations actually used.
type clientInterface interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, error)
	del(ctx context.Context, key string) error
	increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	ping(ctx context.Context) error
}

func NewService(cfg config.Cache, logger *slog.Logger) (*Service, error) {
	if !cfg.Enabled {
		return &Service{client: &noOpClient{}, logger: logger, prefix: "authd:"}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
	}

	logger.Info("connected to Redis cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)

	return &Service{
		client: &redisClientWrapper{client: redisClient},
		logger: logger,
		prefix: "authd:",
	}, nil
}

func (s *Service) buildKey(key string) string {
	return s.prefix + key
}

// Set stores a JSON-encoded value with a TTL.
func (s *Service) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := s.client.set(ctx, s.buildKey(key), data, ttl); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Get loads a value into dest. Returns ErrCacheMiss when absent.
func (s *Service) Get(ctx context.Context, key string, dest any) error {
	val, err := s.client.get(ctx, s.buildKey(key))
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.del(ctx, s.buildKey(key)); err != nil {
		s.logger.Warn("cache delete failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Increment bumps a counter and refreshes its window. Used by the rate
// limiter so counts are shared across server instances.
func (s *Service) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.increment(ctx, s.buildKey(key), ttl)
	if err != nil {
		s.logger.Warn("cache increment failed", "key", key, "error", err)
		return 0, err
	}
	return count, nil
}

// Health pings the backing store.
func (s *Service) Health(ctx context.Context) error {
	return s.client.ping(ctx)
}

func (s *Service) Close() error {
	if wrapper, ok := s.client.(*redisClientWrapper); ok {
		return wrapper.close()
	}
	return nil
}

type redisClientWrapper struct {
	client *redis.Client
}

func (r *redisClientWrapper) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisClientWrapper) get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return []byte(val), nil
}

func (r *redisClientWrapper) del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *redisClientWrapper) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipeline := r.client.Pipeline()
	incrCmd := pipeline.Incr(ctx, key)
	pipeline.Expire(ctx, key, ttl)

	if _, err := pipeline.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

func (r *redisClientWrapper) ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisClientWrapper) close() error {
	return r.client.Close()
}

// noOpClient backs the disabled-cache mode.
type noOpClient struct{}

func (n *noOpClient) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (n *noOpClient) get(ctx context.Context, key string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (n *noOpClient) del(ctx context.Context, key string) error {
	return nil
}

func (n *noOpClient) increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, nil
}

func (n *noOpClient) ping(ctx context.Context) error {
	return nil
}

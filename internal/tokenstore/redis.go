package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix = "partsearch:token:"
	defaultRedisTTL    = 24 * time.Hour // same as the backend access cookie max-age
)

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int

	// Key prefix, session name is appended
	Prefix string

	// How long a saved token is kept
	TTL time.Duration
}

// RedisSlot keeps the token under a per-session key with a TTL
type RedisSlot struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisSlot(ctx context.Context, cfg RedisConfig, session string) (*RedisSlot, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}
	if session == "" {
		return nil, errors.New("session name must not be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = defaultRedisPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultRedisTTL
	}

	return &RedisSlot{
		client: client,
		key:    cfg.Prefix + session,
		ttl:    cfg.TTL,
	}, nil
}

func (s *RedisSlot) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, s.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("redis get failed: %w", err)
	}
	return token, nil
}

func (s *RedisSlot) Save(ctx context.Context, token string) error {
	return s.client.Set(ctx, s.key, token, s.ttl).Err()
}

func (s *RedisSlot) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

func (s *RedisSlot) Close() error {
	return s.client.Close()
}

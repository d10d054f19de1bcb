package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "portal:session:"

// RedisStore keeps tokens as Redis keys with a TTL, so sessions survive restarts
// and are shared between portal replicas.
type RedisStore struct {
	client *redis.Client
}

var _ Tokens = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Issue(ctx context.Context, accountID string) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+tok, accountID, TTL).Err(); err != nil {
		return "", fmt.Errorf("store session token: %w", err)
	}
	return tok, nil
}

func (s *RedisStore) Validate(ctx context.Context, token string) (string, error) {
	id, err := s.client.Get(ctx, redisKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup session token: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Revoke(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Del(ctx, redisKeyPrefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("revoke session token: %w", err)
	}
	return n > 0, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

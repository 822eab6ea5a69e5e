package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// RedisClient is the subset of the redis client RedisStore uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the session under one key so several service replicas
// can share a login.
type RedisStore struct {
	client RedisClient
	key    string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client RedisClient, key string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, key: key, ttl: ttl, now: time.Now}
}

func (rs *RedisStore) Save(ctx context.Context, cookies []browser.Cookie) error {
	stored := newStoredSession(cookies, rs.ttl, rs.now())
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	var expiration time.Duration
	if !stored.ExpiresAt.IsZero() {
		expiration = stored.ExpiresAt.Sub(rs.now())
		if expiration <= 0 {
			return nil
		}
	}

	if err := rs.client.Set(ctx, rs.key, data, expiration).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (rs *RedisStore) Load(ctx context.Context) ([]browser.Cookie, error) {
	data, err := rs.client.Get(ctx, rs.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var stored StoredSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if stored.expired(rs.now()) {
		return nil, nil
	}
	return stored.Cookies, nil
}

func (rs *RedisStore) Clear(ctx context.Context) error {
	if err := rs.client.Del(ctx, rs.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

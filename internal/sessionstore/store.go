package sessionstore

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/queenbooks-stock/internal/browser"
)

// Store persists the cookies of a logged-in session.
type Store interface {
	Load(ctx context.Context) ([]browser.Cookie, error)
	Save(ctx context.Context, cookies []browser.Cookie) error
	Clear(ctx context.Context) error
}

// Config selects a backend: "none", "file" or "redis".
type Config struct {
	Kind     string
	File     string
	RedisKey string
	TTL      time.Duration
}

// New builds the configured store. It returns nil for "none"; client is
// only used by the redis backend.
func New(cfg Config, client RedisClient) (Store, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "file":
		return NewFileStore(cfg.File, cfg.TTL), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("redis session store needs a redis client")
		}
		return NewRedisStore(client, cfg.RedisKey, cfg.TTL), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Kind)
	}
}

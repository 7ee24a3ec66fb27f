package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anime-shed/retina-inspector-go/internal/config"
	"github.com/anime-shed/retina-inspector-go/internal/session"
)

// StoreType represents the supported session store backends
type StoreType string

const (
	// MemoryStore keeps sessions in process memory
	MemoryStore StoreType = config.SessionStoreMemory
	// RedisStore keeps sessions in Redis so they survive restarts
	RedisStore StoreType = config.SessionStoreRedis
)

const redisPingTimeout = 5 * time.Second

// StoreFactory creates session stores
type StoreFactory interface {
	CreateStore(ctx context.Context, storeType StoreType) (session.Store, error)
}

// storeFactory implements StoreFactory from configuration
type storeFactory struct {
	cfg *config.Config
}

// NewStoreFactory creates a new session store factory
func NewStoreFactory(cfg *config.Config) StoreFactory {
	return &storeFactory{cfg: cfg}
}

// CreateStore creates a session store based on the specified type. Redis
// stores are pinged before they are returned.
func (f *storeFactory) CreateStore(ctx context.Context, storeType StoreType) (session.Store, error) {
	switch storeType {
	case MemoryStore, "":
		return session.NewMemoryStore(f.cfg.SessionTTL), nil
	case RedisStore:
		client := redis.NewClient(&redis.Options{
			Addr:     f.cfg.RedisAddr,
			Password: f.cfg.RedisPassword,
			DB:       f.cfg.RedisDB,
		})
		store := session.NewRedisStore(client, f.cfg.SessionTTL)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", f.cfg.RedisAddr, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", storeType)
	}
}

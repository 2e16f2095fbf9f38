package store

import (
	"context"
	"fmt"
	"io"

	config "github.com/hanpama/graphsub/internal/config"
	logging "github.com/hanpama/graphsub/internal/logging"
	subscriptions "github.com/hanpama/graphsub/internal/subscriptions"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open builds the store selected by cfg.Driver. The returned closer releases
// backend connections.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (subscriptions.SubscriberStore, io.Closer, error) {
	logger = logging.Component(logger, "store").With(zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), io.NopCloser(nil), nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLite.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedis(client, cfg.Redis.Prefix, cfg.Redis.TTL, logger), client, nil
	default:
		return nil, nil, &subscriptions.ConfigError{Key: "store.driver", Value: cfg.Driver}
	}
}

package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/beacon/internal/config"
	"github.com/oriys/beacon/internal/store"
)

// getStore connects to Postgres using the resolved DSN, applying the
// schema if it isn't already present (internal/store.NewPostgresStore
// calls ensureSchema on every connect).
func getStore() (store.Store, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if pgDSN != "" {
		cfg.Postgres.DSN = pgDSN
	}

	return store.NewPostgresStore(context.Background(), cfg.Postgres.DSN)
}

func getRedis() *redis.Client {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)
	if redisAddr != "" {
		cfg.Redis.Addr = redisAddr
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

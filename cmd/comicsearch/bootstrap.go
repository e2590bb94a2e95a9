package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/comicsearch/config"
	"github.com/mohammad-safakhou/comicsearch/internal/queue/streams"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, "["+prefix+"] ", log.LstdFlags)
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return rdb, nil
}

// schemaRegistry returns nil when validation is disabled; publishers and consumers then skip it.
func schemaRegistry(cfg config.QueueConfig) (*streams.SchemaRegistry, error) {
	if !cfg.ValidateSchemas {
		return nil, nil
	}
	reg, err := streams.NewBaseRegistry()
	if err != nil {
		return nil, fmt.Errorf("schema registry: %w", err)
	}
	return reg, nil
}

// Package cache remembers which document owns an href, in Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"annotationstore/pkg/logger"
)

const keyPrefix = "annotationstore:href:"

type Config struct {
	Addr     string
	DB       int
	Password string
	TTL      time.Duration
}

type URICache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(cfg Config) *URICache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return NewWithClient(rdb, cfg.TTL)
}

func NewWithClient(rdb *redis.Client, ttl time.Duration) *URICache {
	return &URICache{rdb: rdb, ttl: ttl}
}

func (c *URICache) Ping(ctx context.Context) error {
	err := c.rdb.Ping(ctx).Err()
	if err != nil {
		logger.Sugar.Errorf("Redis PING failed: %v", err)
	}
	return err
}

func (c *URICache) Close() {
	if err := c.rdb.Close(); err != nil {
		logger.Sugar.Errorf("Redis close failed: %v", err)
	}
}

// Get returns the id of the document owning href, or "" when unknown.
func (c *URICache) Get(ctx context.Context, href string) (string, error) {
	id, err := c.rdb.Get(ctx, keyPrefix+href).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *URICache) Set(ctx context.Context, href, documentID string) error {
	return c.rdb.Set(ctx, keyPrefix+href, documentID, c.ttl).Err()
}

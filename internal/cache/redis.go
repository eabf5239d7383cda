// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix namespaces every key this cache writes.
const keyPrefix = "chirai:completion:"

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration // 0 keeps entries until evicted by Redis
	Logger   *zap.Logger
}

// Redis is a Cache shared between processes through a Redis server.
// Backend errors are logged and treated as misses.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

var _ Cache = (*Redis)(nil)

// NewRedis connects to Redis and verifies the connection with PING.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:6379"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	return &Redis{client: client, ttl: opts.TTL, log: opts.Logger.Named("cache")}, nil
}

// Get fetches key. Any error, including a miss, reports false.
func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("redis get failed", zap.Error(err))
		}
		r.misses.Add(1)
		return "", false
	}
	r.hits.Add(1)
	return val, true
}

// Set stores value with the configured TTL.
func (r *Redis) Set(ctx context.Context, key, value string) {
	if err := r.client.Set(ctx, keyPrefix+key, value, r.ttl).Err(); err != nil {
		r.log.Warn("redis set failed", zap.Error(err))
	}
}

// Clear deletes every key written by this cache.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Stats returns hit and miss counts. Entry and byte counts are not tracked
// for a shared server.
func (r *Redis) Stats() Stats {
	return Stats{Hits: r.hits.Load(), Misses: r.misses.Load()}
}

// Close closes the underlying connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache provides the fingerprint-keyed result cache with adaptive
// TTL plus the transient task/batch status store. All operations degrade
// silently: a broken cache behaves like a permanent miss and never fails
// the caller.
package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leselix/internal/breaker"
	"leselix/internal/config"
	"leselix/internal/telemetry"
)

// Key namespaces for transient state.
const (
	TaskStatusPrefix = "task_status:"
	BatchJobPrefix   = "batch_job:"

	// analysisPrefix namespaces analysis records by fingerprint.
	analysisPrefix = "lix:"
)

// Store is the narrow key-value surface the cache needs from its backing
// store. The production implementation wraps go-redis; tests use an
// in-memory fake.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// RedisStore implements Store on github.com/redis/go-redis/v9.
type RedisStore struct{ c *redis.Client }

// NewRedisStore dials nothing; the client connects lazily on first use.
func NewRedisStore(cfg config.Redis) *RedisStore {
	return &RedisStore{c: redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
	})}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.c.Del(ctx, keys...).Err()
}

func (s *RedisStore) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error { return s.c.Close() }

// Cache wraps a Store with retry, short timeouts, adaptive TTL selection,
// and a circuit breaker. Get/Set failures are swallowed after logging so
// callers proceed as on a miss.
type Cache struct {
	store      Store
	breaker    *breaker.Breaker
	log        zerolog.Logger
	retries    int
	timeout    time.Duration
	ttlDefault time.Duration
	ttlSmall   time.Duration
	ttlLarge   time.Duration
	thresholds config.Thresholds
}

// New builds a cache over the given store. retries and timeout bound each
// store operation; the breaker guards the store as a whole.
func New(store Store, cfg config.Redis, th config.Thresholds, retries int, timeout time.Duration, br *breaker.Breaker, log zerolog.Logger) *Cache {
	if retries < 0 {
		retries = 0
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Cache{
		store:      store,
		breaker:    br,
		log:        log.With().Str("component", "cache").Logger(),
		retries:    retries,
		timeout:    timeout,
		ttlDefault: cfg.TTLDefault,
		ttlSmall:   cfg.TTLSmall,
		ttlLarge:   cfg.TTLLarge,
		thresholds: th,
	}
}

// TTLFor selects the TTL by input size class: small texts change rarely and
// cache longest, large texts cache shortest.
func (c *Cache) TTLFor(textLen int) time.Duration {
	switch {
	case textLen < c.thresholds.Small:
		return c.ttlSmall
	case textLen > c.thresholds.Large:
		return c.ttlLarge
	default:
		return c.ttlDefault
	}
}

// Get fetches a raw value. A store failure counts as a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	var value string
	var found bool
	err := c.do(ctx, func(opCtx context.Context) error {
		v, ok, err := c.store.Get(opCtx, key)
		if err != nil {
			return err
		}
		value, found = v, ok
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", trimKey(key)).Msg("cache get failed, treating as miss")
		telemetry.RecordCacheMiss()
		return "", false
	}
	if found {
		telemetry.RecordCacheHit()
	} else {
		telemetry.RecordCacheMiss()
	}
	return value, found
}

// Set writes a raw value with the given TTL. Writing the same key twice
// yields the same state with a refreshed TTL. Failures are logged and
// swallowed.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	err := c.do(ctx, func(opCtx context.Context) error {
		return c.store.Set(opCtx, key, value, ttl)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("key", trimKey(key)).Msg("cache set failed")
	}
}

// Delete removes keys. Failures are logged and swallowed.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	err := c.do(ctx, func(opCtx context.Context) error {
		return c.store.Del(opCtx, keys...)
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("cache delete failed")
	}
}

// ClearNamespace scans for every key under the prefix and deletes them,
// returning how many were removed.
func (c *Cache) ClearNamespace(ctx context.Context, prefix string) int {
	var keys []string
	err := c.do(ctx, func(opCtx context.Context) error {
		found, err := c.store.ScanKeys(opCtx, prefix+"*")
		if err != nil {
			return err
		}
		keys = found
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Str("prefix", prefix).Msg("namespace scan failed")
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	c.Delete(ctx, keys...)
	return len(keys)
}

// Healthy reports whether the backing store answers a ping.
func (c *Cache) Healthy(ctx context.Context) bool {
	return c.do(ctx, c.store.Ping) == nil
}

// AnalysisKey namespaces a fingerprint for analysis record storage.
func AnalysisKey(fingerprint string) string { return analysisPrefix + fingerprint }

// do runs one store operation through the breaker with bounded retry and a
// per-attempt timeout.
func (c *Cache) do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		err := c.breaker.Do(func() error {
			opCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			return op(opCtx)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func trimKey(key string) string {
	if len(key) > 24 {
		return key[:24]
	}
	return key
}

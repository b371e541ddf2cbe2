/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
)

// Envelope wraps every cached value with the time it was fetched, so
// freshness is judged per read against per-resource windows rather than by
// store-side expiry. The outer store TTL only bounds how stale a value can
// ever get.
type Envelope struct {
	Data     json.RawMessage `json:"data"`
	CachedAt time.Time       `json:"cached_at"`
}

// Cache is a stale-while-revalidate layer over the shared KV store.
//
// A fresh hit is served directly. A stale hit is served immediately while
// one background refresh runs; the in-flight set guarantees at most one
// refresh per key per process. A miss fetches synchronously, deduplicated
// across concurrent callers with singleflight.
type Cache struct {
	store    kv.KVStore
	outerTTL time.Duration
	group    singleflight.Group
	logger   logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewCache(store kv.KVStore, log logger.Logger) *Cache {
	return &Cache{
		store:    store,
		outerTTL: defaultOuterTTL,
		inFlight: make(map[string]struct{}),
		logger:   log,
	}
}

// ReadThrough returns the cached value for key, fetching when needed. fetch
// is only invoked with a context the fetch owns: the synchronous path passes
// the caller's ctx, the background refresh path carries its own timeout so a
// departing caller cannot cancel it.
func ReadThrough[T any](ctx context.Context, c *Cache, key string, freshness time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	envelope, found := c.load(ctx, key)
	if found {
		var value T
		if err := json.Unmarshal(envelope.Data, &value); err == nil {
			if time.Since(envelope.CachedAt) > freshness {
				c.refreshInBackground(key, func(refreshCtx context.Context) error {
					fresh, err := fetch(refreshCtx)
					if err != nil {
						return err
					}

					return c.save(refreshCtx, key, fresh)
				})
			}

			return value, nil
		}

		// Undecodable envelope, treat as a miss.
		c.logger.Warn().Str("key", key).Msg("Dropping unreadable cache entry")
	}

	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		if err := c.save(ctx, key, value); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to store cache entry")
		}

		return value, nil
	})
	if err != nil {
		return zero, err
	}

	value, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("cache: unexpected value type for key %s", key)
	}

	return value, nil
}

func (c *Cache) load(ctx context.Context, key string) (Envelope, bool) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")

		return Envelope{}, false
	}

	if !found {
		return Envelope{}, false
	}

	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Envelope{}, false
	}

	if time.Since(envelope.CachedAt) > c.outerTTL {
		return Envelope{}, false
	}

	return envelope, true
}

func (c *Cache) save(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}

	envelope, err := json.Marshal(Envelope{Data: data, CachedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}

	if err := c.store.Put(ctx, key, envelope, c.outerTTL); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}

	return nil
}

// refreshInBackground starts one refresh goroutine per key. Later stale
// reads of the same key are no-ops until the running refresh removes itself
// from the in-flight set.
func (c *Cache) refreshInBackground(key string, refresh func(context.Context) error) {
	c.mu.Lock()
	if _, running := c.inFlight[key]; running {
		c.mu.Unlock()

		return
	}

	c.inFlight[key] = struct{}{}
	c.mu.Unlock()

	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), defaultRefreshTimeout)
		defer cancel()

		if err := refresh(ctx); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Background cache refresh failed")
		}
	}()
}

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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
)

func newTestCache(t *testing.T) (*Cache, *kv.MemoryStore) {
	t.Helper()

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	return NewCache(store, logger.NewTestLogger()), store
}

// seedEnvelope plants a cache entry with a chosen age.
func seedEnvelope(t *testing.T, store *kv.MemoryStore, key string, value interface{}, age time.Duration) {
	t.Helper()

	data, err := json.Marshal(value)
	require.NoError(t, err)

	envelope, err := json.Marshal(Envelope{Data: data, CachedAt: time.Now().Add(-age)})
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), key, envelope, 0))
}

func TestReadThroughMissFetchesAndStores(t *testing.T) {
	cache, store := newTestCache(t)

	var fetches atomic.Int32

	value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
		func(context.Context) (string, error) {
			fetches.Add(1)

			return "fetched", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "fetched", value)
	assert.Equal(t, int32(1), fetches.Load())

	_, found, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestReadThroughFreshHitSkipsFetch(t *testing.T) {
	cache, store := newTestCache(t)
	seedEnvelope(t, store, "k", "cached", time.Second)

	value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
		func(context.Context) (string, error) {
			t.Fatal("fetch must not run on a fresh hit")

			return "", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "cached", value)
}

func TestReadThroughStaleHitServesStaleAndRefreshesOnce(t *testing.T) {
	cache, store := newTestCache(t)
	seedEnvelope(t, store, "k", "stale", time.Hour)

	var refreshes atomic.Int32

	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		refreshes.Add(1)
		<-release

		return "refreshed", nil
	}

	// Several stale reads while the first refresh is still running.
	for i := 0; i < 5; i++ {
		value, err := ReadThrough(context.Background(), cache, "k", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "stale", value, "stale value must be served immediately")
	}

	close(release)

	require.Eventually(t, func() bool {
		value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
			func(context.Context) (string, error) { return "", errors.New("unexpected fetch") })

		return err == nil && value == "refreshed"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), refreshes.Load(), "only one background refresh may run")
}

func TestReadThroughMissDeduplicatesConcurrentFetches(t *testing.T) {
	cache, _ := newTestCache(t)

	var fetches atomic.Int32

	release := make(chan struct{})

	const readers = 16

	var wg sync.WaitGroup

	results := make([]string, readers)

	for i := 0; i < readers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
				func(context.Context) (string, error) {
					fetches.Add(1)
					<-release

					return "shared", nil
				})
			require.NoError(t, err)
			results[i] = value
		}(i)
	}

	// Give the readers a moment to pile onto the singleflight group.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent misses must share one fetch")

	for _, value := range results {
		assert.Equal(t, "shared", value)
	}
}

func TestReadThroughOuterTTLExpiresEntries(t *testing.T) {
	cache, store := newTestCache(t)
	seedEnvelope(t, store, "k", "ancient", 25*time.Hour)

	var fetches atomic.Int32

	value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
		func(context.Context) (string, error) {
			fetches.Add(1)

			return "fresh", nil
		})
	require.NoError(t, err)

	// Past the outer TTL the entry is a miss, not a stale hit.
	assert.Equal(t, "fresh", value)
	assert.Equal(t, int32(1), fetches.Load())
}

func TestReadThroughFetchErrorPropagatesOnMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	wantErr := errors.New("upstream down")

	_, err := ReadThrough(context.Background(), cache, "k", time.Minute,
		func(context.Context) (string, error) { return "", wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestReadThroughUnreadableEnvelopeIsMiss(t *testing.T) {
	cache, store := newTestCache(t)
	require.NoError(t, store.Put(context.Background(), "k", []byte("not json"), 0))

	value, err := ReadThrough(context.Background(), cache, "k", time.Minute,
		func(context.Context) (string, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

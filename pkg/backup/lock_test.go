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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
)

func TestLockAcquireRelease(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()

	lock := NewDistributedLock(store, "lock", time.Second, logger.NewTestLogger())

	require.NoError(t, lock.Acquire(ctx, time.Minute))

	_, found, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, lock.Release(ctx))

	_, found, err = store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLockBlocksSecondHolder(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()
	log := logger.NewTestLogger()

	first := NewDistributedLock(store, "lock", 5*time.Second, log)
	require.NoError(t, first.Acquire(ctx, time.Minute))

	second := NewDistributedLock(store, "lock", 5*time.Second, log)

	acquired := make(chan error, 1)

	go func() { acquired <- second.Acquire(ctx, time.Minute) }()

	select {
	case err := <-acquired:
		t.Fatalf("second holder acquired while first held the lock: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, first.Release(ctx))
	require.NoError(t, <-acquired)
}

func TestLockClearsExpiredHolder(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()
	log := logger.NewTestLogger()

	stale := NewDistributedLock(store, "lock", time.Second, log)
	require.NoError(t, stale.Acquire(ctx, 50*time.Millisecond))

	time.Sleep(100 * time.Millisecond)

	// The stale record's embedded expiry has passed; a new holder clears
	// it without waiting out the full bounded wait.
	fresh := NewDistributedLock(store, "lock", 5*time.Second, log)

	start := time.Now()
	require.NoError(t, fresh.Acquire(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second)
}

func TestLockForcedTakeoverAfterBoundedWait(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()
	log := logger.NewTestLogger()

	holder := NewDistributedLock(store, "lock", time.Second, log)
	require.NoError(t, holder.Acquire(ctx, time.Hour))

	// Short bounded wait, live holder: the takeover path fires.
	impatient := NewDistributedLock(store, "lock", 300*time.Millisecond, log)
	require.NoError(t, impatient.Acquire(ctx, time.Minute))

	// The original holder's release is now a no-op; the record belongs to
	// the taker.
	require.NoError(t, holder.Release(ctx))

	value, found, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	require.True(t, found)

	var record lockRecord
	require.NoError(t, json.Unmarshal(value, &record))
	assert.Equal(t, impatient.holder, record.Holder)
}

func TestLockReleaseIsIdempotent(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()

	lock := NewDistributedLock(store, "lock", time.Second, logger.NewTestLogger())
	require.NoError(t, lock.Acquire(ctx, time.Minute))
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
}

func TestTokenStoreRoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()

	tokens := newTokenStore(store, keyspace{instance: "test"})

	_, found, err := tokens.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tokens.Save(ctx, "visa-1"))

	visa, found, err := tokens.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "visa-1", visa)

	// A later save overwrites unconditionally; the chain only moves
	// forward.
	require.NoError(t, tokens.Save(ctx, "visa-2"))

	visa, _, err = tokens.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "visa-2", visa)

	require.NoError(t, tokens.Invalidate(ctx))

	_, found, err = tokens.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTokenStoreExpiresOldTokens(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := context.Background()

	tokens := newTokenStore(store, keyspace{instance: "test"})

	record, err := json.Marshal(tokenRecord{
		Visa:     "ancient",
		StoredAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, tokens.key, record, 0))

	_, found, loadErr := tokens.Load(ctx)
	require.NoError(t, loadErr)
	assert.False(t, found, "tokens older than the service lifetime count as absent")
}

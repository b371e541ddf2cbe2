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
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
)

// DistributedLock serializes protocol exchanges that read or rotate the
// shared session token. It is backed by an atomic create in the shared KV
// store, so multiple connector processes contend on the same key.
//
// After the bounded wait expires the lock is taken over by force. Two
// holders may briefly overlap in that window; that is a deliberate
// availability-over-strict-exclusivity tradeoff, because blocking forever on
// a crashed holder's key would deadlock every caller.
type DistributedLock struct {
	store  kv.KVStore
	key    string
	holder string
	wait   time.Duration
	poll   time.Duration
	logger logger.Logger
}

type lockRecord struct {
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// NewDistributedLock creates a lock on the given key. Each lock value
// carries its own expiry so stale holders are detected without relying on
// store-side TTL semantics.
func NewDistributedLock(store kv.KVStore, key string, wait time.Duration, log logger.Logger) *DistributedLock {
	return &DistributedLock{
		store:  store,
		key:    key,
		holder: uuid.NewString(),
		wait:   wait,
		poll:   defaultLockPoll,
		logger: log,
	}
}

// Acquire blocks until the lock is held or ctx is done. On bounded-wait
// timeout it force-acquires by overwriting the key.
func (l *DistributedLock) Acquire(ctx context.Context, ttl time.Duration) error {
	deadline := time.Now().Add(l.wait)

	for {
		created, err := l.tryAcquire(ctx, ttl)
		if err != nil {
			return err
		}

		if created {
			return nil
		}

		if time.Now().After(deadline) {
			return l.forceAcquire(ctx, ttl)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", errLockNotAcquired, ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

// tryAcquire attempts one atomic create, clearing expired holders first.
func (l *DistributedLock) tryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	created, err := l.store.PutIfAbsent(ctx, l.key, l.record(ttl), ttl)
	if err != nil {
		return false, fmt.Errorf("lock acquire: %w", err)
	}

	if created {
		return true, nil
	}

	value, found, err := l.store.Get(ctx, l.key)
	if err != nil {
		return false, fmt.Errorf("lock inspect: %w", err)
	}

	if !found {
		// Holder released between our create and get; next poll wins.
		return false, nil
	}

	var current lockRecord
	if err := json.Unmarshal(value, &current); err != nil {
		// Unreadable lock record, treat as stale.
		l.logger.Warn().Str("key", l.key).Msg("Clearing unreadable lock record")

		return false, l.store.Delete(ctx, l.key)
	}

	if time.Now().After(current.ExpiresAt) {
		l.logger.Debug().
			Str("key", l.key).
			Str("holder", current.Holder).
			Time("expired_at", current.ExpiresAt).
			Msg("Clearing expired lock")

		return false, l.store.Delete(ctx, l.key)
	}

	return false, nil
}

func (l *DistributedLock) forceAcquire(ctx context.Context, ttl time.Duration) error {
	l.logger.Warn().
		Str("key", l.key).
		Dur("waited", l.wait).
		Msg("Lock wait exceeded, forcing takeover")

	if err := l.store.Put(ctx, l.key, l.record(ttl), ttl); err != nil {
		return fmt.Errorf("lock takeover: %w", err)
	}

	return nil
}

// Release drops the lock if we still hold it. A force takeover by another
// process leaves their record in place, so releasing is a no-op then.
func (l *DistributedLock) Release(ctx context.Context) error {
	value, found, err := l.store.Get(ctx, l.key)
	if err != nil {
		return fmt.Errorf("lock release: %w", err)
	}

	if !found {
		return nil
	}

	var current lockRecord
	if err := json.Unmarshal(value, &current); err == nil && current.Holder != l.holder {
		return nil
	}

	return l.store.Delete(ctx, l.key)
}

func (l *DistributedLock) record(ttl time.Duration) []byte {
	now := time.Now()

	record, _ := json.Marshal(lockRecord{
		Holder:     l.holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})

	return record
}

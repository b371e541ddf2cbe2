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

	"github.com/carverauto/vaultradar/pkg/kv"
)

// tokenStore owns the rotating session token ("visa") in the shared KV
// store. The store, not any in-process variable, is the single source of
// truth: every worker sharing the instance id sees the same chain.
type tokenStore struct {
	store kv.KVStore
	key   string
	ttl   time.Duration
}

type tokenRecord struct {
	Visa     string    `json:"visa"`
	StoredAt time.Time `json:"stored_at"`
}

func newTokenStore(store kv.KVStore, keys keyspace) *tokenStore {
	return &tokenStore{
		store: store,
		key:   keys.token(),
		ttl:   tokenTTL,
	}
}

// Load returns the current token, or found=false when there is none or the
// cached one has outlived the service-declared lifetime.
func (t *tokenStore) Load(ctx context.Context) (string, bool, error) {
	value, found, err := t.store.Get(ctx, t.key)
	if err != nil {
		return "", false, fmt.Errorf("token load: %w", err)
	}

	if !found {
		return "", false, nil
	}

	var record tokenRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return "", false, nil
	}

	if record.Visa == "" || time.Since(record.StoredAt) > t.ttl {
		return "", false, nil
	}

	return record.Visa, true, nil
}

// Save overwrites the stored token. Called on every response that carries a
// visa so the chain always advances.
func (t *tokenStore) Save(ctx context.Context, visa string) error {
	record, _ := json.Marshal(tokenRecord{
		Visa:     visa,
		StoredAt: time.Now(),
	})

	if err := t.store.Put(ctx, t.key, record, t.ttl); err != nil {
		return fmt.Errorf("token save: %w", err)
	}

	return nil
}

// Invalidate drops the cached token so the next exchange logs in again.
func (t *tokenStore) Invalidate(ctx context.Context) error {
	if err := t.store.Delete(ctx, t.key); err != nil {
		return fmt.Errorf("token invalidate: %w", err)
	}

	return nil
}

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

//go:generate mockgen -destination=mock_kv.go -package=kv github.com/carverauto/vaultradar/pkg/kv KVStore

// Package kv defines the shared key/value store contract used by the backup
// connector for cache envelopes, the rotating session token, and the
// distributed lock. Multiple connector processes may share one store.
package kv

import (
	"context"
	"time"
)

// KVStore is the narrow contract the connector requires from an external
// key/value store.
type KVStore interface {
	// Get retrieves the value associated with the given key.
	// Returns the value as a byte slice, a boolean indicating if the key was
	// found, and an error if the operation fails.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores a value under the given key with an optional TTL.
	// If ttl is zero, the value persists until overwritten or deleted
	// (or until the backend's bucket-level retention expires it).
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// PutIfAbsent atomically creates the key only when it does not already
	// exist. Returns true when this call created the key. This is the
	// primitive behind the distributed lock.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes the key and its associated value from the store.
	Delete(ctx context.Context, key string) error

	// Close shuts down the KV store, releasing any resources (e.g., connections).
	Close() error
}

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

	"github.com/carverauto/vaultradar/pkg/models"
)

// storageNodeEndpoint is the discovered address plus node-scoped token of
// the storage node holding one device's data.
type storageNodeEndpoint struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// storageNodeClient speaks the tertiary protocol: per-device storage nodes
// with their own RPC endpoint. Node calls still carry the shared visa at the
// body level, and a rotated visa in a node response advances the shared
// chain like any other exchange.
type storageNodeClient struct {
	client *Client
	cache  *Cache
}

func newStorageNodeClient(client *Client, cache *Cache) *storageNodeClient {
	return &storageNodeClient{client: client, cache: cache}
}

// endpoint discovers the storage node for a device through the main console,
// cached so repeated per-device lookups skip the discovery round trip.
func (s *storageNodeClient) endpoint(ctx context.Context, deviceID int64) (storageNodeEndpoint, error) {
	return ReadThrough(ctx, s.cache, s.client.keys.storageNode(deviceID),
		time.Duration(s.client.cfg.Freshness.StorageNodes),
		func(ctx context.Context) (storageNodeEndpoint, error) {
			result, err := s.client.Call(ctx, "GetStorageNode", map[string]interface{}{
				"device_id": deviceID,
			})
			if err != nil {
				return storageNodeEndpoint{}, err
			}

			var node storageNodeEndpoint
			if err := json.Unmarshal(result, &node); err != nil {
				return storageNodeEndpoint{}, fmt.Errorf("decode storage node: %w", err)
			}

			if node.Address == "" {
				return storageNodeEndpoint{}, fmt.Errorf("%w: device %d has no storage node", errDeviceNotFound, deviceID)
			}

			return node, nil
		})
}

// EnumerateSessionErrors pulls the error log of a device's most recent
// session directly from its storage node.
func (s *storageNodeClient) EnumerateSessionErrors(ctx context.Context, deviceID int64) ([]models.DeviceError, error) {
	node, err := s.endpoint(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"token":     node.Token,
		"device_id": deviceID,
	}

	var entries []models.DeviceError

	err = s.client.withLock(ctx, func() error {
		result, err := retryWithPolicy(ctx, s.client.policy, func() (json.RawMessage, error) {
			return s.call(ctx, node.Address, "EnumerateSessionErrors", params)
		})
		if err != nil {
			return err
		}

		var rows []struct {
			Channel string `json:"channel"`
			File    string `json:"file"`
			Message string `json:"message"`
			Time    int64  `json:"time"`
		}

		if err := json.Unmarshal(result, &rows); err != nil {
			return fmt.Errorf("decode session errors: %w", err)
		}

		entries = make([]models.DeviceError, 0, len(rows))
		for _, row := range rows {
			entries = append(entries, models.DeviceError{
				DeviceID:  deviceID,
				Channel:   row.Channel,
				File:      row.File,
				Message:   row.Message,
				Timestamp: time.Unix(row.Time, 0).UTC(),
			})
		}

		return nil
	})

	return entries, err
}

// call performs one node-level RPC round trip. Caller must hold the lock:
// the shared visa travels with the request and may rotate in the response.
func (s *storageNodeClient) call(ctx context.Context, address, method string, params interface{}) (json.RawMessage, error) {
	visa, err := s.client.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.post(ctx, address+"/rpc", rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Visa:    visa,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	if resp.Visa != "" {
		if err := s.client.tokens.Save(ctx, resp.Visa); err != nil {
			s.client.logger.Warn().Err(err).Msg("Failed to store rotated token")
		}
	}

	if resp.Error != nil {
		return nil, s.client.mapRPCError(ctx, method, resp.Error)
	}

	return resp.Result, nil
}

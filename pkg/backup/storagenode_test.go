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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/vaultradar/pkg/logger"
)

func TestEnumerateSessionErrorsViaStorageNode(t *testing.T) {
	occurred := time.Now().Add(-time.Hour).Truncate(time.Second)

	// Per-device storage node with its own RPC endpoint.
	nodeMux := http.NewServeMux()
	nodeMux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     string `json:"id"`
			Visa   string `json:"visa"`
			Params struct {
				Token    string `json:"token"`
				DeviceID int64  `json:"device_id"`
			} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Node-scoped token travels in params, shared visa at body level.
		assert.Equal(t, "node-token", req.Params.Token)
		assert.NotEmpty(t, req.Visa)

		result, _ := json.Marshal([]map[string]interface{}{
			{
				"channel": "M",
				"file":    "master.mdf",
				"message": "file in use",
				"time":    occurred.Unix(),
			},
		})

		// Node responses rotate the shared visa too.
		writeRPC(w, rpcResponse{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Visa:    "visa-from-node",
			Result:  result,
		})
	})

	nodeServer := httptest.NewServer(nodeMux)
	t.Cleanup(nodeServer.Close)

	console := newFakeConsole(t)
	console.handle("GetStorageNode", func(params json.RawMessage) (interface{}, *rpcError) {
		var p struct {
			DeviceID int64 `json:"device_id"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		assert.Equal(t, int64(42), p.DeviceID)

		return storageNodeEndpoint{Address: nodeServer.URL, Token: "node-token"}, nil
	})

	client, store := newTestClient(t, console)
	nodes := newStorageNodeClient(client, NewCache(store, logger.NewTestLogger()))

	entries, err := nodes.EnumerateSessionErrors(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, int64(42), entries[0].DeviceID)
	assert.Equal(t, "M", entries[0].Channel)
	assert.Equal(t, "master.mdf", entries[0].File)
	assert.Equal(t, "file in use", entries[0].Message)
	assert.Equal(t, occurred.UTC(), entries[0].Timestamp)

	// The node's rotated visa is now the shared token.
	visa, found, err := client.tokens.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "visa-from-node", visa)

	// Discovery result is cached: a second enumeration skips GetStorageNode.
	_, err = nodes.EnumerateSessionErrors(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, console.callCount("GetStorageNode"))
}

func TestStorageNodeDiscoveryMissing(t *testing.T) {
	console := newFakeConsole(t)
	console.handle("GetStorageNode", func(json.RawMessage) (interface{}, *rpcError) {
		return storageNodeEndpoint{}, nil
	})

	client, store := newTestClient(t, console)
	nodes := newStorageNodeClient(client, NewCache(store, logger.NewTestLogger()))

	_, err := nodes.EnumerateSessionErrors(context.Background(), 42)
	require.ErrorIs(t, err, errDeviceNotFound)
}

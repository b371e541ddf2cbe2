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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
)

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	_, err := writer.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestDecodeSystemLogVariants(t *testing.T) {
	jsonLog := []byte(`["line one", "line two"]`)

	tests := []struct {
		name string
		raw  []byte
		want []string
	}{
		{"gzipped json", nil, []string{"line one", "line two"}},
		{"plain json", jsonLog, []string{"line one", "line two"}},
		{"plain text", []byte("first\r\nsecond\nthird"), []string{"first", "second", "third"}},
		{
			"base64 wrapped json",
			[]byte(base64.StdEncoding.EncodeToString(jsonLog)),
			[]string{"line one", "line two"},
		},
		{
			// "abcdefgh" decodes as base64 but the result is binary noise;
			// the text itself must survive.
			"plain text that happens to be valid base64",
			[]byte("abcdefgh"),
			[]string{"abcdefgh"},
		},
		{"empty", []byte(""), nil},
	}

	tests[0].raw = gzipped(t, jsonLog)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeSystemLog(tt.raw))
		})
	}
}

func TestDecodeSystemLogBase64Gzip(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(gzipped(t, []byte(`["deep line"]`)))

	assert.Equal(t, []string{"deep line"}, decodeSystemLog([]byte(payload)))
}

// fakeRecoveryService serves the JSON:API recovery-status resource plus the
// RPC login endpoint and signed artifact downloads.
func fakeRecoveryService(t *testing.T, status recoveryStatusResource, artifacts map[string][]byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var server *httptest.Server

	// JSON-RPC endpoint: everything here is a login.
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		writeRPC(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Visa: "visa-rest"})
	})

	mux.HandleFunc("/api/v1/draas/recovery-status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer visa-rest", r.Header.Get("Authorization"))
		assert.Equal(t, jsonAPIMimeType, r.Header.Get("Accept"))

		attrs, err := json.Marshal(status)
		require.NoError(t, err)

		var doc jsonAPIDocument
		if status.DeviceID != 0 {
			data, _ := json.Marshal([]jsonAPIResource{{
				ID:         "1",
				Type:       "recovery-status",
				Attributes: attrs,
			}})
			doc.Data = data
		} else {
			doc.Data = []byte("[]")
		}

		w.Header().Set("Content-Type", jsonAPIMimeType)
		_ = json.NewEncoder(w).Encode(doc)
	})

	for fileID, content := range artifacts {
		fileID, content := fileID, content

		mux.HandleFunc("/api/v1/files/"+fileID+"/temporary-url", func(w http.ResponseWriter, r *http.Request) {
			data, _ := json.Marshal(map[string]interface{}{
				"attributes": map[string]string{
					"url": server.URL + "/download/" + fileID,
				},
			})

			w.Header().Set("Content-Type", jsonAPIMimeType)
			_ = json.NewEncoder(w).Encode(jsonAPIDocument{Data: data})
		})

		mux.HandleFunc("/download/"+fileID, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(content)
		})
	}

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestRecoveryFetcher(t *testing.T, server *httptest.Server) *recoveryFetcher {
	t.Helper()

	cfg := testConfig(server.URL + "/rpc")
	cfg.RESTEndpoint = server.URL
	require.NoError(t, cfg.Validate())

	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	log := logger.NewTestLogger()
	client := NewClient(cfg, store, log)
	cache := NewCache(store, log)

	return newRecoveryFetcher(newRESTClient(client), cache, client.keys, log)
}

func TestRecoveryVerificationFull(t *testing.T) {
	screenshot := []byte{0x89, 'P', 'N', 'G'}
	systemLog := gzipped(t, []byte(`["svc started", "boot ok"]`))

	server := fakeRecoveryService(t, recoveryStatusResource{
		DeviceID:        42,
		Status:          "passed",
		TestedAt:        testNow.Unix(),
		BootTimeSeconds: 95,
		ScreenshotID:    "shot-1",
		SystemLogID:     "log-1",
		StoppedServices: []string{"print-spooler"},
	}, map[string][]byte{"shot-1": screenshot, "log-1": systemLog})

	fetcher := newTestRecoveryFetcher(t, server)

	verification, err := fetcher.Verification(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, verification.Available)
	assert.True(t, verification.Passed)
	assert.False(t, verification.Partial)
	assert.Equal(t, int64(95), verification.BootTimeSeconds)
	assert.Equal(t, []string{"print-spooler"}, verification.StoppedServices)
	assert.Equal(t, []string{"svc started", "boot ok"}, verification.SystemLog)

	wantURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot)
	assert.Equal(t, wantURL, verification.ScreenshotDataURL)
}

func TestRecoveryVerificationNotConfigured(t *testing.T) {
	server := fakeRecoveryService(t, recoveryStatusResource{}, nil)
	fetcher := newTestRecoveryFetcher(t, server)

	verification, err := fetcher.Verification(context.Background(), 7)
	require.NoError(t, err, "a device without recovery testing is not an error")

	assert.False(t, verification.Available)
	assert.Equal(t, int64(7), verification.DeviceID)
}

func TestRecoveryVerificationPartialOnArtifactFailure(t *testing.T) {
	// Screenshot id points nowhere: the download 404s.
	server := fakeRecoveryService(t, recoveryStatusResource{
		DeviceID:     42,
		Status:       "passed",
		ScreenshotID: "missing-artifact",
	}, nil)

	fetcher := newTestRecoveryFetcher(t, server)

	verification, err := fetcher.Verification(context.Background(), 42)
	require.NoError(t, err)

	assert.True(t, verification.Available)
	assert.True(t, verification.Partial, "artifact failure degrades to a partial record")
	assert.Empty(t, verification.ScreenshotDataURL)
}

func TestRecoveryVerificationRejectsGarbageAttributes(t *testing.T) {
	lines := decodeSystemLog([]byte("{not valid json"))
	assert.Equal(t, []string{"{not valid json"}, lines)
}

func TestRESTErrorMessageExtraction(t *testing.T) {
	doc := `{"errors": [{"status": "403", "title": "Forbidden", "detail": "token expired"}]}`
	assert.Equal(t, "token expired", restErrorMessage([]byte(doc), http.StatusForbidden))

	assert.Equal(t, http.StatusText(http.StatusBadGateway),
		restErrorMessage([]byte("not json"), http.StatusBadGateway))
}

func TestIssueTemporaryURLMissingURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		writeRPC(w, rpcResponse{JSONRPC: jsonRPCVersion, Visa: "visa-rest"})
	})
	mux.HandleFunc("/api/v1/files/empty/temporary-url", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data": {"attributes": {}}}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	cfg := testConfig(server.URL + "/rpc")
	cfg.RESTEndpoint = server.URL
	require.NoError(t, cfg.Validate())

	client := NewClient(cfg, kv.NewMemoryStore(), logger.NewTestLogger())
	rest := newRESTClient(client)

	_, err := rest.IssueTemporaryURL(context.Background(), "empty")
	require.ErrorIs(t, err, errNoTemporaryURL)
}

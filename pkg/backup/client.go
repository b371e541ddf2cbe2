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

// Package backup pkg/backup/client.go implements the JSON-RPC protocol
// client for the backup management console, including the rotating session
// token ("visa") lifecycle.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

const (
	jsonRPCVersion = "2.0"

	methodLogin = "Login"
)

// RPCCall is one element of a batch exchange.
type RPCCall struct {
	Method string
	Params interface{}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Visa    string      `json:"visa,omitempty"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Visa    string          `json:"visa,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type loginParams struct {
	Partner  string `json:"partner"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResult struct {
	Visa        string `json:"visa"`
	PartnerInfo struct {
		ID    int64  `json:"id"`
		Name  string `json:"name"`
		Level string `json:"level"`
	} `json:"partner_info"`
}

// Client executes authenticated exchanges against the management console.
// It hides token acquisition, serialization, rate limiting and retry from
// callers. The session token lives in the shared KV store and is guarded by
// the distributed lock: only one exchange at a time may read or rotate it.
type Client struct {
	cfg     *Config
	httpc   *http.Client
	limiter *rate.Limiter
	lock    *DistributedLock
	tokens  *tokenStore
	store   kv.KVStore
	keys    keyspace
	policy  RetryPolicy
	logger  logger.Logger
}

// NewClient wires a protocol client against the shared store. cfg must be
// validated.
func NewClient(cfg *Config, store kv.KVStore, log logger.Logger) *Client {
	keys := keyspace{instance: cfg.InstanceID}

	c := &Client{
		cfg:     cfg,
		httpc:   &http.Client{Timeout: time.Duration(cfg.RequestTimeout)},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		lock:    NewDistributedLock(store, keys.lock(), time.Duration(cfg.LockWait), log),
		tokens:  newTokenStore(store, keys),
		store:   store,
		keys:    keys,
		policy:  defaultRetryPolicy(),
		logger:  log,
	}

	c.policy.OnRetry = func(err error, next time.Duration) {
		c.logger.Warn().
			Err(err).
			Dur("backoff", next).
			Msg("Retrying protocol exchange")
	}

	return c
}

// Call executes one method under the retry policy. The distributed lock is
// held for the duration of the exchange because the response may rotate the
// shared token.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if err := c.lock.Acquire(ctx, time.Duration(c.cfg.LockTTL)); err != nil {
		return nil, err
	}
	defer c.releaseLock(ctx)

	return retryWithPolicy(ctx, c.policy, func() (json.RawMessage, error) {
		return c.exchange(ctx, method, params)
	})
}

// CallBatch executes N calls while holding the lock once, with a TTL
// proportional to the batch size. Per-item failure does not abort the batch:
// an auth failure gets one invalidate-and-retry for that item, and a
// definitive failure leaves a nil slot while siblings continue.
func (c *Client) CallBatch(ctx context.Context, calls []RPCCall) ([]json.RawMessage, error) {
	if len(calls) == 0 {
		return nil, errEmptyBatch
	}

	ttl := time.Duration(c.cfg.LockTTL) * time.Duration(len(calls))
	if err := c.lock.Acquire(ctx, ttl); err != nil {
		return nil, err
	}
	defer c.releaseLock(ctx)

	results := make([]json.RawMessage, len(calls))

	for i, call := range calls {
		if err := c.limiter.Wait(ctx); err != nil {
			return results, fmt.Errorf("rate limit: %w", err)
		}

		result, err := c.exchange(ctx, call.Method, call.Params)

		var authErr *AuthError
		if errors.As(err, &authErr) {
			// exchange already invalidated the token; one more try
			// forces a fresh login for this item. The retry consumes
			// its own rate-limit slot.
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return results, fmt.Errorf("rate limit: %w", waitErr)
			}

			result, err = c.exchange(ctx, call.Method, call.Params)
		}

		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("method", call.Method).
				Int("index", i).
				Msg("Batch item failed")

			continue
		}

		results[i] = result
	}

	return results, nil
}

// Login exchanges the long-lived credentials for a fresh token. It is not
// subject to locking or rate limiting beyond its own call.
func (c *Client) Login(ctx context.Context) (string, error) {
	visa, _, err := c.login(ctx)

	return visa, err
}

// PartnerID returns the cached root partner id, forcing a fresh login to
// obtain one when the cache is empty.
func (c *Client) PartnerID(ctx context.Context) (int64, error) {
	value, found, err := c.store.Get(ctx, c.keys.rootPartner())
	if err == nil && found {
		if id, parseErr := strconv.ParseInt(string(value), 10, 64); parseErr == nil && id != 0 {
			return id, nil
		}
	}

	_, id, err := c.login(ctx)
	if err != nil {
		return 0, err
	}

	return id, nil
}

// HealthCheck forces a fresh login and reports reachability. It never
// returns an error.
func (c *Client) HealthCheck(ctx context.Context) models.HealthStatus {
	start := time.Now()

	_, _, err := c.login(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return models.HealthStatus{
			OK:        false,
			LatencyMS: latency,
			Message:   err.Error(),
		}
	}

	return models.HealthStatus{OK: true, LatencyMS: latency}
}

// withLock runs fn while holding the distributed lock, for sub-protocols
// that consume or rotate the shared token.
func (c *Client) withLock(ctx context.Context, fn func() error) error {
	if err := c.lock.Acquire(ctx, time.Duration(c.cfg.LockTTL)); err != nil {
		return err
	}
	defer c.releaseLock(ctx)

	return fn()
}

func (c *Client) releaseLock(ctx context.Context) {
	if err := c.lock.Release(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to release distributed lock")
	}
}

// exchange performs one JSON-RPC round trip using the most recently stored
// token. A fresh visa in the response always replaces the cached one, even
// when the call itself failed.
func (c *Client) exchange(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	visa, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.cfg.Endpoint, rpcRequest{
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
		if err := c.tokens.Save(ctx, resp.Visa); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to store rotated token")
		}
	}

	if resp.Error != nil {
		return nil, c.mapRPCError(ctx, method, resp.Error)
	}

	return resp.Result, nil
}

// ensureToken loads the shared token, logging in when the store has none.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	visa, found, err := c.tokens.Load(ctx)
	if err != nil {
		return "", err
	}

	if found {
		return visa, nil
	}

	visa, _, err = c.login(ctx)

	return visa, err
}

// login performs the one exchange allowed without a token and stores the
// returned visa plus the embedded root partner id.
func (c *Client) login(ctx context.Context) (visa string, partnerID int64, err error) {
	resp, err := c.post(ctx, c.cfg.Endpoint, rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  methodLogin,
		Params: loginParams{
			Partner:  c.cfg.Credentials.Partner,
			Username: c.cfg.Credentials.Username,
			Password: c.cfg.Credentials.Password,
		},
	})
	if err != nil {
		return "", 0, err
	}

	if resp.Error != nil {
		return "", 0, &AuthError{Code: resp.Error.Code, Message: resp.Error.Message}
	}

	var result loginResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return "", 0, fmt.Errorf("decode login result: %w", err)
		}
	}

	visa = resp.Visa
	if visa == "" {
		visa = result.Visa
	}

	if visa == "" {
		return "", 0, &AuthError{Message: "login response contained no token"}
	}

	if err := c.tokens.Save(ctx, visa); err != nil {
		return "", 0, err
	}

	if result.PartnerInfo.ID != 0 {
		partnerID = result.PartnerInfo.ID

		id := strconv.FormatInt(partnerID, 10)
		if err := c.store.Put(ctx, c.keys.rootPartner(), []byte(id), 0); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache root partner id")
		}
	}

	c.logger.Debug().Int64("partner_id", partnerID).Msg("Logged in to management console")

	return visa, partnerID, nil
}

// post sends one JSON-RPC request body and decodes the envelope.
func (c *Client) post(ctx context.Context, endpoint string, body rpcRequest) (*rpcResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		// Transport failures are retryable.
		return nil, &ProtocolError{Method: body.Method, Status: 0, Message: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(httpResp.Body)

		if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
			if invErr := c.tokens.Invalidate(ctx); invErr != nil {
				c.logger.Warn().Err(invErr).Msg("Failed to invalidate token")
			}

			return nil, &AuthError{Message: string(raw)}
		}

		return nil, &ProtocolError{Method: body.Method, Status: httpResp.StatusCode, Message: string(raw)}
	}

	var resp rpcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &resp, nil
}

// mapRPCError classifies a JSON-RPC error object. Token errors invalidate
// the cached visa so the retry path logs in again.
func (c *Client) mapRPCError(ctx context.Context, method string, rpcErr *rpcError) error {
	if rpcErr.Code == rpcCodeInvalidVisa || rpcErr.Code == rpcCodeExpiredVisa {
		if err := c.tokens.Invalidate(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to invalidate token")
		}

		return &AuthError{Code: rpcErr.Code, Message: rpcErr.Message}
	}

	return &ProtocolError{
		Method:  method,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf("rpc error %d: %s", rpcErr.Code, rpcErr.Message),
	}
}

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

// Package backup pkg/backup/errors.go defines the connector error taxonomy.
package backup

import (
	"errors"
	"fmt"
)

var (
	errMissingEndpoint    = errors.New("endpoint is required")
	errMissingCredentials = errors.New("partner, username and password are required")
	errDeviceNotFound     = errors.New("device not found")
	errLockNotAcquired    = errors.New("distributed lock not acquired")
	errEmptyBatch         = errors.New("batch contains no calls")
	errNoTemporaryURL     = errors.New("temporary URL response contained no URL")
	errMalformedRow       = errors.New("malformed statistics row")
)

// IsNotFound reports whether err means a device the connector does not
// know about.
func IsNotFound(err error) bool {
	return errors.Is(err, errDeviceNotFound)
}

// JSON-RPC error codes the management console uses for token problems.
const (
	rpcCodeInvalidVisa = -32001
	rpcCodeExpiredVisa = -32002
)

// AuthError indicates the session token was rejected or credentials are
// missing. The client invalidates the cached token and retries these up to
// the policy limit.
type AuthError struct {
	Code    int
	Message string
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("authentication failed (code %d): %s", e.Code, e.Message)
	}

	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// ProtocolError is a transport or protocol-level failure. Only 5xx-class
// statuses are retryable; everything else is fatal to the call.
type ProtocolError struct {
	Method  string
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Method, e.Status, e.Message)
}

// Retryable reports whether the failure class is transient.
func (e *ProtocolError) Retryable() bool {
	return e.Status == 0 || e.Status >= 500
}

// isRetryable is the retry predicate shared by the RPC and REST clients.
func isRetryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return true
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.Retryable()
	}

	// Anything else (decode failures, canceled contexts) is fatal to the
	// call. Transport errors are wrapped in ProtocolError with Status 0 by
	// the callers, so they land in the retryable branch above.
	return false
}

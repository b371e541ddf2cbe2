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
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy wraps cenkalti/backoff with a pluggable retry predicate and a
// pre-retry hook. Errors the predicate rejects are marked permanent and
// surface unmodified.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// ShouldRetry decides whether an error is transient. Nil retries
	// everything up to MaxTries.
	ShouldRetry func(error) bool

	// OnRetry runs before each backoff sleep, e.g. to invalidate a cached
	// token or log the attempt.
	OnRetry func(err error, next time.Duration)
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        defaultMaxTries,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     15 * time.Second,
		Multiplier:      2,
		ShouldRetry:     isRetryable,
	}
}

// retryWithPolicy executes op under the policy and returns its last result.
func retryWithPolicy[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	wrapped := func() (T, error) {
		value, err := op()
		if err != nil && policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
			return value, backoff.Permanent(err)
		}

		return value, err
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}

	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	if policy.Multiplier > 0 {
		b.Multiplier = policy.Multiplier
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(policy.MaxTries),
	}

	if policy.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(policy.OnRetry)))
	}

	return backoff.Retry(ctx, wrapped, opts...)
}

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
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/vaultradar/pkg/models"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultLockTTL        = 60 * time.Second
	defaultLockWait       = 30 * time.Second
	defaultLockPoll       = 250 * time.Millisecond
	defaultRateLimit      = 5.0 // calls per second
	defaultRateBurst      = 10
	defaultMaxTries       = 3
	defaultOuterTTL       = 24 * time.Hour
	defaultRefreshTimeout = 30 * time.Second

	// Service-declared session token lifetime (~15 minutes). The client
	// treats older cached tokens as absent.
	tokenTTL = 15 * time.Minute
)

// Freshness holds per-resource stale-while-revalidate windows. Each window
// must be at most the outer cache TTL.
type Freshness struct {
	Devices       models.Duration `json:"devices"`
	Partners      models.Duration `json:"partners"`
	History       models.Duration `json:"history"`
	StorageNodes  models.Duration `json:"storage_nodes"`
	Recovery      models.Duration `json:"recovery"`
	RecoveryIndex models.Duration `json:"recovery_index"`
	DeviceErrors  models.Duration `json:"device_errors"`
}

// Credentials are the long-lived login credentials exchanged for session
// tokens.
type Credentials struct {
	Partner  string `json:"partner"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Config configures one backup connector instance.
type Config struct {
	// InstanceID namespaces all shared-store keys so several connector
	// configurations can share one KV store. Defaults to a random UUID,
	// which effectively makes the instance private.
	InstanceID string `json:"instance_id"`

	// Endpoint is the JSON-RPC management console URL.
	Endpoint string `json:"endpoint"`
	// RESTEndpoint is the base URL of the secondary protocol. Defaults to
	// Endpoint with the RPC path dropped.
	RESTEndpoint string `json:"rest_endpoint"`

	Credentials Credentials `json:"credentials"`

	RateLimit      float64         `json:"rate_limit"`
	RateBurst      int             `json:"rate_burst"`
	RequestTimeout models.Duration `json:"request_timeout"`
	LockTTL        models.Duration `json:"lock_ttl"`
	LockWait       models.Duration `json:"lock_wait"`

	Freshness Freshness `json:"freshness"`
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errMissingEndpoint
	}

	if c.Credentials.Partner == "" || c.Credentials.Username == "" || c.Credentials.Password == "" {
		return errMissingCredentials
	}

	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}

	if c.RESTEndpoint == "" {
		c.RESTEndpoint = c.Endpoint
	}

	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}

	if c.RateBurst <= 0 {
		c.RateBurst = defaultRateBurst
	}

	if time.Duration(c.RequestTimeout) == 0 {
		c.RequestTimeout = models.Duration(defaultRequestTimeout)
	}

	if time.Duration(c.LockTTL) == 0 {
		c.LockTTL = models.Duration(defaultLockTTL)
	}

	if time.Duration(c.LockWait) == 0 {
		c.LockWait = models.Duration(defaultLockWait)
	}

	c.Freshness.applyDefaults()

	return nil
}

func (f *Freshness) applyDefaults() {
	setDefault := func(d *models.Duration, def time.Duration) {
		if time.Duration(*d) == 0 {
			*d = models.Duration(def)
		}
	}

	setDefault(&f.Devices, 30*time.Minute)
	setDefault(&f.Partners, time.Hour)
	setDefault(&f.History, 15*time.Minute)
	setDefault(&f.StorageNodes, 10*time.Minute)
	setDefault(&f.Recovery, 15*time.Minute)
	setDefault(&f.RecoveryIndex, time.Hour)
	setDefault(&f.DeviceErrors, 15*time.Minute)
}

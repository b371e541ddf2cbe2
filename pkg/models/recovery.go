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

package models

import "time"

// RecoveryVerification is the outcome of a disaster-recovery boot test for a
// device. Available=false is a valid, common state meaning the device has no
// recovery testing configured; it is not an error.
type RecoveryVerification struct {
	DeviceID        int64      `json:"device_id"`
	Available       bool       `json:"available"`
	Passed          bool       `json:"passed,omitempty"`
	TestedAt        *time.Time `json:"tested_at,omitempty"`
	BootTimeSeconds int64      `json:"boot_time_seconds,omitempty"`
	Message         string     `json:"message,omitempty"`

	// ScreenshotDataURL inlines the boot screenshot as a data: URL so the
	// dashboard can render it without cross-origin fetches.
	ScreenshotDataURL string   `json:"screenshot_data_url,omitempty"`
	StoppedServices   []string `json:"stopped_services,omitempty"`
	SystemLog         []string `json:"system_log,omitempty"`

	// Partial is set when the dashboard summary was retrieved but one or
	// more artifacts could not be fetched or decoded.
	Partial bool `json:"partial,omitempty"`
}

// HealthStatus reports connector reachability against the management console.
type HealthStatus struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

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

// AlertSeverity orders operational alerts for the dashboard.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityHigh     AlertSeverity = "high"
	SeverityMedium   AlertSeverity = "medium"
)

// Score maps a severity to its numeric sort weight (higher is worse).
func (s AlertSeverity) Score() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Alert is an operational alert derived from normalized device state.
type Alert struct {
	DeviceID     int64         `json:"device_id"`
	DeviceName   string        `json:"device_name"`
	CustomerID   int64         `json:"customer_id"`
	CustomerName string        `json:"customer_name,omitempty"`
	Severity     AlertSeverity `json:"severity"`
	Status       OverallStatus `json:"status"`
	Message      string        `json:"message"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

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
	"fmt"
	"sort"
	"time"

	"github.com/carverauto/vaultradar/pkg/models"
)

// GenerateAlerts derives operational alerts from normalized device state.
// Pure function of its inputs: failed devices raise critical, overdue
// devices high (with elapsed hours since last success), warning devices
// medium. Output is sorted severity-descending, then by device name.
func GenerateAlerts(devices []models.Device, now time.Time) []models.Alert {
	var alerts []models.Alert

	for _, device := range devices {
		alert, ok := deviceAlert(device, now)
		if ok {
			alerts = append(alerts, alert)
		}
	}

	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Severity.Score() != alerts[j].Severity.Score() {
			return alerts[i].Severity.Score() > alerts[j].Severity.Score()
		}

		return alerts[i].DeviceName < alerts[j].DeviceName
	})

	return alerts
}

func deviceAlert(device models.Device, now time.Time) (models.Alert, bool) {
	alert := models.Alert{
		DeviceID:     device.ID,
		DeviceName:   device.Name,
		CustomerID:   device.CustomerID,
		CustomerName: device.CustomerName,
		Status:       device.OverallStatus,
		GeneratedAt:  now,
	}

	switch device.OverallStatus {
	case models.StatusFailed:
		alert.Severity = models.SeverityCritical
		alert.Message = fmt.Sprintf("Backup failed on %s", device.Name)
	case models.StatusOverdue:
		alert.Severity = models.SeverityHigh
		alert.Message = fmt.Sprintf("No successful backup on %s for %d hours",
			device.Name, elapsedSinceSuccess(device, now))
	case models.StatusWarning:
		alert.Severity = models.SeverityMedium
		alert.Message = fmt.Sprintf("Backup completed with warnings on %s", device.Name)
	default:
		return models.Alert{}, false
	}

	return alert, true
}

// elapsedSinceSuccess finds the hours since the newest successful session
// across all data sources.
func elapsedSinceSuccess(device models.Device, now time.Time) int64 {
	var newest *time.Time

	for _, source := range device.DataSources {
		if source.LastSuccess == nil {
			continue
		}

		if newest == nil || source.LastSuccess.After(*newest) {
			newest = source.LastSuccess
		}
	}

	if newest == nil {
		return 0
	}

	return int64(now.Sub(*newest).Hours())
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/vaultradar/pkg/models"
)

func TestGenerateAlertsSeverities(t *testing.T) {
	lastSuccess := testNow.Add(-72 * time.Hour)

	devices := []models.Device{
		{ID: 1, Name: "healthy-box", OverallStatus: models.StatusHealthy},
		{ID: 2, Name: "warn-box", OverallStatus: models.StatusWarning},
		{
			ID: 3, Name: "late-box", OverallStatus: models.StatusOverdue,
			DataSources: []models.DataSource{{Channel: channelFiles, LastSuccess: &lastSuccess}},
		},
		{ID: 4, Name: "dead-box", OverallStatus: models.StatusFailed},
		{ID: 5, Name: "quiet-box", OverallStatus: models.StatusNeverRan},
	}

	alerts := GenerateAlerts(devices, testNow)
	require.Len(t, alerts, 3)

	// Severity descending: critical, high, medium.
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, int64(4), alerts[0].DeviceID)

	assert.Equal(t, models.SeverityHigh, alerts[1].Severity)
	assert.Contains(t, alerts[1].Message, "72 hours")

	assert.Equal(t, models.SeverityMedium, alerts[2].Severity)
	assert.Equal(t, int64(2), alerts[2].DeviceID)
}

func TestGenerateAlertsDeterministicOrder(t *testing.T) {
	devices := []models.Device{
		{ID: 2, Name: "bravo", OverallStatus: models.StatusFailed},
		{ID: 1, Name: "alpha", OverallStatus: models.StatusFailed},
		{ID: 3, Name: "charlie", OverallStatus: models.StatusFailed},
	}

	alerts := GenerateAlerts(devices, testNow)
	require.Len(t, alerts, 3)

	assert.Equal(t, "alpha", alerts[0].DeviceName)
	assert.Equal(t, "bravo", alerts[1].DeviceName)
	assert.Equal(t, "charlie", alerts[2].DeviceName)
}

func TestGenerateAlertsEmptyFleet(t *testing.T) {
	assert.Empty(t, GenerateAlerts(nil, testNow))
	assert.Empty(t, GenerateAlerts([]models.Device{
		{OverallStatus: models.StatusHealthy},
	}, testNow))
}

func TestElapsedSinceSuccessPicksNewest(t *testing.T) {
	older := testNow.Add(-100 * time.Hour)
	newer := testNow.Add(-50 * time.Hour)

	device := models.Device{DataSources: []models.DataSource{
		{Channel: channelFiles, LastSuccess: &older},
		{Channel: channelMSSQL, LastSuccess: &newer},
	}}

	assert.Equal(t, int64(50), elapsedSinceSuccess(device, testNow))

	assert.Zero(t, elapsedSinceSuccess(models.Device{}, testNow))
}

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
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// overdueThreshold is how old the last successful session may be before a
// device counts as overdue.
const overdueThreshold = 48 * time.Hour

// wireRow is one statistics row as the console sends it: a list of
// single-key maps, one per requested column.
type wireRow []map[string]json.RawMessage

// extractField linear-scans the row for a column code. Rows rarely exceed a
// few dozen columns, so a map rebuild is not worth it.
func extractField(row wireRow, code string) (json.RawMessage, bool) {
	for _, column := range row {
		if value, ok := column[code]; ok {
			return value, true
		}
	}

	return nil, false
}

func fieldString(row wireRow, code string) string {
	raw, ok := extractField(row, code)
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	// Some columns arrive as bare numbers.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}

	return ""
}

func fieldInt64(row wireRow, code string) (int64, bool) {
	raw, ok := extractField(row, code)
	if !ok {
		return 0, false
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	// Numbers quoted as strings show up too.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil {
			return parsed, true
		}
	}

	return 0, false
}

// fieldTime reads a unix-seconds column. Zero and negative values mean "no
// timestamp".
func fieldTime(row wireRow, code string) *time.Time {
	seconds, ok := fieldInt64(row, code)
	if !ok || seconds <= 0 {
		return nil
	}

	t := time.Unix(seconds, 0).UTC()

	return &t
}

// dataMapper translates column-coded statistics rows into the normalized
// model. now is injectable so overdue classification is testable.
type dataMapper struct {
	logger logger.Logger
	now    func() time.Time
}

func newDataMapper(log logger.Logger) *dataMapper {
	return &dataMapper{logger: log, now: time.Now}
}

// mapDevices decodes a page of statistics rows. Malformed rows are logged
// and skipped; one bad row never fails the page. partnerNames resolves
// customer ids; missing entries degrade to a synthetic name.
func (m *dataMapper) mapDevices(rows []wireRow, partnerNames map[int64]string) []models.Device {
	devices := make([]models.Device, 0, len(rows))

	for i, row := range rows {
		device, err := m.mapDevice(row)
		if err != nil {
			m.logger.Warn().Err(err).Int("row", i).Msg("Skipping malformed statistics row")

			continue
		}

		device.CustomerName = partnerName(partnerNames, device.CustomerID)
		devices = append(devices, device)
	}

	return devices
}

// partnerName resolves a customer id against the partner map, degrading to
// a synthetic placeholder so a stale map never blocks device retrieval.
func partnerName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok && name != "" {
		return name
	}

	return fmt.Sprintf("Partner %d", id)
}

func (m *dataMapper) mapDevice(row wireRow) (models.Device, error) {
	id, ok := fieldInt64(row, colDeviceID)
	if !ok || id == 0 {
		return models.Device{}, fmt.Errorf("%w: missing device id", errMalformedRow)
	}

	customerID, _ := fieldInt64(row, colCustomerID)
	usedBytes, _ := fieldInt64(row, colUsedBytes)

	device := models.Device{
		ID:               id,
		Name:             fieldString(row, colDeviceName),
		CustomerID:       customerID,
		OSType:           fieldString(row, colOSType),
		OSVersion:        fieldString(row, colOSVersion),
		StorageOnline:    mapStorageLink(fieldString(row, colStorageLink)),
		UsedStorageBytes: usedBytes,
		StatsTimestamp:   fieldTime(row, colStatsTime),
		DataSources:      m.mapDataSources(row),
	}

	device.HostedTenant = isHostedTenant(device)
	device.OverallStatus = m.computeOverallStatus(device)

	return device, nil
}

// mapStorageLink interprets the storage link status column. Absent or
// unparseable values count as online so a missing column cannot flip an
// entire fleet to offline.
func mapStorageLink(value string) bool {
	switch strings.ToLower(value) {
	case "0", "offline", "false":
		return false
	default:
		return true
	}
}

// mapDataSources builds one DataSource per channel prefix that has at least
// one populated column in the row.
func (m *dataMapper) mapDataSources(row wireRow) []models.DataSource {
	channels := []string{
		channelFiles, channelSystemState, channelMSSQL, channelExchange,
		channelVMware, channelHyperV, channelNetShares, channelMailboxes,
	}

	sources := make([]models.DataSource, 0, 2)

	for _, channel := range channels {
		source, present := m.mapDataSource(row, channel)
		if present {
			sources = append(sources, source)
		}
	}

	return sources
}

func (m *dataMapper) mapDataSource(row wireRow, channel string) (models.DataSource, bool) {
	present := false

	source := models.DataSource{
		Channel:     channel,
		ChannelName: channelNames[channel],
	}

	if status, ok := fieldInt64(row, channel+fieldStatus); ok {
		source.LastStatus = mapSessionStatus(status)
		present = true
	}

	if t := fieldTime(row, channel+fieldLastSession); t != nil {
		source.LastSession = t
		present = true
	}

	if t := fieldTime(row, channel+fieldLastSuccess); t != nil {
		source.LastSuccess = t
		present = true
	}

	if n, ok := fieldInt64(row, channel+fieldSelected); ok {
		source.SelectedBytes = n
		present = true
	}

	if n, ok := fieldInt64(row, channel+fieldTransferred); ok {
		source.TransferredBytes = n
		present = true
	}

	if n, ok := fieldInt64(row, channel+fieldDuration); ok {
		source.DurationSeconds = n
		present = true
	}

	if n, ok := fieldInt64(row, channel+fieldErrorCount); ok {
		source.ErrorCount = int(n)
		present = true
	}

	if bar := fieldString(row, channel+fieldColorBar); bar != "" {
		source.ColorBar = mapColorBar(bar)
		present = true
	}

	return source, present
}

// mapSessionStatus translates the console's integer session state. Unknown
// values map to the empty status rather than an error.
func mapSessionStatus(code int64) models.SessionStatus {
	return sessionStatusCodes[code]
}

// mapColorBar decodes the 28-character day encoding, index 0 oldest, last
// character today. Unknown characters classify as none.
func mapColorBar(bar string) []models.ColorBarDay {
	days := make([]models.ColorBarDay, 0, len(bar))

	for _, c := range strings.ToLower(bar) {
		day, ok := colorBarCodes[c]
		if !ok {
			day = models.DayNone
		}

		days = append(days, day)
	}

	return days
}

// computeOverallStatus derives the device health state. First match wins:
// storage offline, never ran, failed, overdue, warning, healthy, unknown.
func (m *dataMapper) computeOverallStatus(device models.Device) models.OverallStatus {
	if !device.StorageOnline {
		return models.StatusOffline
	}

	if neverRan(device.DataSources) {
		return models.StatusNeverRan
	}

	worst := models.StatusUnknown
	for _, source := range device.DataSources {
		status := m.sourceStatus(source)
		if statusPriority[status] < statusPriority[worst] {
			worst = status
		}
	}

	return worst
}

// neverRan reports whether no data source has ever produced a session: no
// status and no session timestamp anywhere.
func neverRan(sources []models.DataSource) bool {
	for _, source := range sources {
		if source.LastStatus != "" || source.LastSession != nil {
			return false
		}
	}

	return true
}

func (m *dataMapper) sourceStatus(source models.DataSource) models.OverallStatus {
	switch source.LastStatus {
	case models.SessionFailed, models.SessionAborted:
		return models.StatusFailed
	}

	// Overdue is judged on the last success, or on the last session for a
	// source that has run but never recorded a success. Otherwise a stale
	// completed status would report healthy forever.
	lastGood := source.LastSuccess
	if lastGood == nil {
		lastGood = source.LastSession
	}

	if lastGood != nil && m.now().Sub(*lastGood) > overdueThreshold {
		return models.StatusOverdue
	}

	switch source.LastStatus {
	case models.SessionCompletedWithErrors, models.SessionInProgressWithFaults,
		models.SessionOverQuota, models.SessionInterrupted:
		return models.StatusWarning
	case models.SessionCompleted, models.SessionInProcess, models.SessionRestarted:
		return models.StatusHealthy
	default:
		return models.StatusUnknown
	}
}

// isHostedTenant classifies seat-based cloud-mailbox tenants: no physical
// OS and at least one cloud-mailbox source.
func isHostedTenant(device models.Device) bool {
	if device.OSType != "" {
		return false
	}

	for _, source := range device.DataSources {
		if source.Channel == channelMailboxes {
			return true
		}
	}

	return false
}

// rollupCustomerStatus folds device statuses into one per-customer state:
// the worst by priority, except that never_ran only propagates when the
// customer has no healthy device at all.
func rollupCustomerStatus(devices []models.Device) models.OverallStatus {
	if len(devices) == 0 {
		return models.StatusUnknown
	}

	anyHealthy := false

	for _, device := range devices {
		if device.OverallStatus == models.StatusHealthy {
			anyHealthy = true

			break
		}
	}

	worst := models.StatusUnknown

	for _, device := range devices {
		if device.OverallStatus == models.StatusNeverRan && anyHealthy {
			continue
		}

		if statusPriority[device.OverallStatus] < statusPriority[worst] {
			worst = device.OverallStatus
		}
	}

	return worst
}

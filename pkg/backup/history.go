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
	"encoding/json"
	"sort"
	"time"

	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// maxHistoryDays bounds the reconstruction window; the console keeps
// point-in-time statistics for roughly a month.
const maxHistoryDays = 30

// historyReconstructor recovers per-session history from point-in-time
// statistics snapshots. The console only stores current statistics per
// device, but it can evaluate them as of an arbitrary past timeslice;
// diffing adjacent snapshots reveals when sessions ran.
//
// The sampling grid is daily for the most recent week and every second day
// out to 30 days. Multiple sessions inside one sampled interval collapse
// into a single entry; that undercounting is an accepted approximation.
type historyReconstructor struct {
	client *Client
	cache  *Cache
	logger logger.Logger
	now    func() time.Time
}

func newHistoryReconstructor(client *Client, cache *Cache, log logger.Logger) *historyReconstructor {
	return &historyReconstructor{
		client: client,
		cache:  cache,
		logger: log,
		now:    time.Now,
	}
}

// snapshot is one decoded point-in-time statistics row plus its age.
type snapshot struct {
	offsetDays int
	row        wireRow
}

// DeviceHistory returns reconstructed session entries for the device,
// newest first, covering at most the requested number of days. The full
// 30-day reconstruction is cached; days only filters the result.
func (h *historyReconstructor) DeviceHistory(ctx context.Context, deviceID int64, days int) ([]models.SessionHistoryEntry, error) {
	if days <= 0 || days > maxHistoryDays {
		days = maxHistoryDays
	}

	entries, err := ReadThrough(ctx, h.cache, h.client.keys.history(deviceID),
		time.Duration(h.client.cfg.Freshness.History),
		func(ctx context.Context) ([]models.SessionHistoryEntry, error) {
			return h.reconstruct(ctx, deviceID)
		})
	if err != nil {
		return nil, err
	}

	cutoff := h.now().AddDate(0, 0, -days)

	filtered := make([]models.SessionHistoryEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Timestamp.After(cutoff) {
			filtered = append(filtered, entry)
		}
	}

	return filtered, nil
}

// reconstruct fetches the snapshot grid in one batch and diffs adjacent
// snapshots per channel.
func (h *historyReconstructor) reconstruct(ctx context.Context, deviceID int64) ([]models.SessionHistoryEntry, error) {
	offsets := sampleOffsets(maxHistoryDays)
	now := h.now()

	calls := make([]RPCCall, 0, len(offsets))
	for _, offset := range offsets {
		calls = append(calls, RPCCall{
			Method: "EnumerateAccountStatistics",
			Params: map[string]interface{}{
				"device_id": deviceID,
				"timeslice": now.AddDate(0, 0, -offset).Unix(),
			},
		})
	}

	results, err := h.client.CallBatch(ctx, calls)
	if err != nil {
		return nil, err
	}

	snapshots := make([]snapshot, 0, len(results))

	for i, result := range results {
		if result == nil {
			// Failed batch item; the diff just spans a wider interval.
			continue
		}

		row, err := decodeSnapshotRow(result)
		if err != nil {
			h.logger.Warn().Err(err).
				Int64("device_id", deviceID).
				Int("offset_days", offsets[i]).
				Msg("Skipping undecodable statistics snapshot")

			continue
		}

		snapshots = append(snapshots, snapshot{offsetDays: offsets[i], row: row})
	}

	return diffSnapshots(deviceID, snapshots), nil
}

// decodeSnapshotRow accepts either a bare row or a one-element page.
func decodeSnapshotRow(raw json.RawMessage) (wireRow, error) {
	var row wireRow
	if err := json.Unmarshal(raw, &row); err == nil {
		return row, nil
	}

	var page []wireRow
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, err
	}

	if len(page) == 0 {
		return wireRow{}, nil
	}

	return page[0], nil
}

// diffSnapshots walks adjacent snapshot pairs newest-first. A channel whose
// last-session timestamp differs from the older snapshot (or is absent
// there) ran at least once in between, so the newer snapshot's stat bundle
// becomes one history entry.
func diffSnapshots(deviceID int64, snapshots []snapshot) []models.SessionHistoryEntry {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].offsetDays < snapshots[j].offsetDays
	})

	channels := []string{
		channelFiles, channelSystemState, channelMSSQL, channelExchange,
		channelVMware, channelHyperV, channelNetShares, channelMailboxes,
	}

	var entries []models.SessionHistoryEntry

	for i := 0; i+1 < len(snapshots); i++ {
		newer, older := snapshots[i], snapshots[i+1]

		for _, channel := range channels {
			newerSession := fieldTime(newer.row, channel+fieldLastSession)
			if newerSession == nil {
				continue
			}

			olderSession := fieldTime(older.row, channel+fieldLastSession)
			if olderSession != nil && olderSession.Equal(*newerSession) {
				continue
			}

			entry := models.SessionHistoryEntry{
				DeviceID:  deviceID,
				Channel:   channel,
				Timestamp: *newerSession,
			}

			if status, ok := fieldInt64(newer.row, channel+fieldStatus); ok {
				entry.Status = mapSessionStatus(status)
			}

			if n, ok := fieldInt64(newer.row, channel+fieldSelected); ok {
				entry.SelectedBytes = n
			}

			if n, ok := fieldInt64(newer.row, channel+fieldTransferred); ok {
				entry.TransferredBytes = n
			}

			if n, ok := fieldInt64(newer.row, channel+fieldDuration); ok {
				entry.DurationSeconds = n
			}

			if n, ok := fieldInt64(newer.row, channel+fieldErrorCount); ok {
				entry.ErrorCount = int(n)
			}

			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	return entries
}

// sampleOffsets builds the snapshot grid: daily for the last week, every
// second day after that.
func sampleOffsets(maxDays int) []int {
	offsets := make([]int, 0, 19)

	for day := 0; day <= 6; day++ {
		offsets = append(offsets, day)
	}

	for day := 8; day <= maxDays; day += 2 {
		offsets = append(offsets, day)
	}

	return offsets
}

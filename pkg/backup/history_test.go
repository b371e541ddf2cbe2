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

func TestSampleOffsets(t *testing.T) {
	offsets := sampleOffsets(30)

	// Daily for a week, every second day out to 30: 19 snapshots.
	require.Len(t, offsets, 19)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6}, offsets[:7])
	assert.Equal(t, 8, offsets[7])
	assert.Equal(t, 30, offsets[len(offsets)-1])
}

func TestDiffSnapshotsEmitsChangedChannels(t *testing.T) {
	day := func(offset int) int64 {
		return testNow.AddDate(0, 0, -offset).Unix()
	}

	// The database channel ran between day 1 and day 0; the files channel
	// did not.
	snapshots := []snapshot{
		{offsetDays: 0, row: row(
			"F01", day(3), "F00", 5,
			"M01", day(0), "M00", 5, "M03", 4096, "M04", 2048, "M05", 300, "M06", 0,
		)},
		{offsetDays: 1, row: row(
			"F01", day(3), "F00", 5,
			"M01", day(1), "M00", 5,
		)},
		{offsetDays: 2, row: row(
			"F01", day(3), "F00", 5,
			"M01", day(1), "M00", 5,
		)},
	}

	entries := diffSnapshots(42, snapshots)

	// One emission for the database run between snapshots 1 and 0, one for
	// the change between snapshots 2 and 1... which is unchanged, so only
	// the day-0 run surfaces.
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, int64(42), entry.DeviceID)
	assert.Equal(t, channelMSSQL, entry.Channel)
	assert.Equal(t, time.Unix(day(0), 0).UTC(), entry.Timestamp)
	assert.Equal(t, models.SessionCompleted, entry.Status)
	assert.Equal(t, int64(4096), entry.SelectedBytes)
	assert.Equal(t, int64(2048), entry.TransferredBytes)
	assert.Equal(t, int64(300), entry.DurationSeconds)
}

func TestDiffSnapshotsEmitsWhenOlderAbsent(t *testing.T) {
	// A channel that first appears in the newer snapshot counts as a run.
	snapshots := []snapshot{
		{offsetDays: 0, row: row("F01", testNow.Unix(), "F00", 5)},
		{offsetDays: 1, row: row()},
	}

	entries := diffSnapshots(7, snapshots)
	require.Len(t, entries, 1)
	assert.Equal(t, channelFiles, entries[0].Channel)
}

func TestDiffSnapshotsSortedNewestFirst(t *testing.T) {
	day := func(offset int) int64 {
		return testNow.AddDate(0, 0, -offset).Unix()
	}

	snapshots := []snapshot{
		{offsetDays: 0, row: row("F01", day(0), "S01", day(0))},
		{offsetDays: 1, row: row("F01", day(1), "S01", day(2))},
		{offsetDays: 2, row: row("F01", day(2), "S01", day(2))},
	}

	entries := diffSnapshots(7, snapshots)
	require.Len(t, entries, 3)

	for i := 0; i+1 < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i+1].Timestamp))
	}
}

func TestDiffSnapshotsEmptyInput(t *testing.T) {
	assert.Empty(t, diffSnapshots(1, nil))
	assert.Empty(t, diffSnapshots(1, []snapshot{{offsetDays: 0, row: row("F01", testNow.Unix())}}))
}

func TestDecodeSnapshotRowForms(t *testing.T) {
	bare, err := decodeSnapshotRow([]byte(`[{"F00": 5}]`))
	require.NoError(t, err)

	_, ok := extractField(bare, "F00")
	assert.True(t, ok)

	paged, err := decodeSnapshotRow([]byte(`[[{"F00": 5}], [{"F00": 1}]]`))
	require.NoError(t, err)

	_, ok = extractField(paged, "F00")
	assert.True(t, ok)

	_, err = decodeSnapshotRow([]byte(`"noise"`))
	require.Error(t, err)
}

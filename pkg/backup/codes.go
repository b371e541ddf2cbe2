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

import "github.com/carverauto/vaultradar/pkg/models"

// The management console returns device statistics as rows of cryptic
// column codes. A code is a channel prefix plus a field suffix, e.g. "F00"
// is the last session status of the files channel. Device-level fields use
// their own two-character codes ("I0", "T0", ...).

// Channel prefixes.
const (
	channelFiles       = "F"
	channelSystemState = "S"
	channelMSSQL       = "M"
	channelExchange    = "X"
	channelVMware      = "V"
	channelHyperV      = "H"
	channelNetShares   = "N"
	channelMailboxes   = "O"
)

var channelNames = map[string]string{
	channelFiles:       "Files and Folders",
	channelSystemState: "System State",
	channelMSSQL:       "MS SQL",
	channelExchange:    "Exchange",
	channelVMware:      "VMware",
	channelHyperV:      "Hyper-V",
	channelNetShares:   "Network Shares",
	channelMailboxes:   "Cloud Mailboxes",
}

// Field suffixes appended to a channel prefix.
const (
	fieldStatus      = "00" // last session status (int enum)
	fieldLastSession = "01" // last session start, unix seconds
	fieldLastSuccess = "02" // last successful session, unix seconds
	fieldSelected    = "03" // selected size, bytes
	fieldTransferred = "04" // transferred size, bytes
	fieldDuration    = "05" // session duration, seconds
	fieldErrorCount  = "06" // error count of last session
	fieldColorBar    = "07" // 28-day color bar string
)

// Device-level column codes.
const (
	colDeviceID    = "I0"
	colDeviceName  = "I1"
	colCustomerID  = "I2"
	colOSType      = "I3"
	colOSVersion   = "I4"
	colStorageLink = "I8"
	colUsedBytes   = "T0"
	colStatsTime   = "TL"
)

// sessionStatusCodes maps the console's integer session states to the
// normalized enum. Unlisted values map to the empty status.
var sessionStatusCodes = map[int64]models.SessionStatus{
	0:  models.SessionInProcess,
	1:  models.SessionFailed,
	2:  models.SessionAborted,
	5:  models.SessionCompleted,
	6:  models.SessionInterrupted,
	7:  models.SessionNotStarted,
	8:  models.SessionCompletedWithErrors,
	9:  models.SessionInProgressWithFaults,
	10: models.SessionOverQuota,
	11: models.SessionNoSelection,
	12: models.SessionRestarted,
}

// colorBarCodes maps one color-bar character (lowercased) to a day
// classification. Unknown characters classify as none.
var colorBarCodes = map[rune]models.ColorBarDay{
	'x': models.DaySuccess,
	'w': models.DayPartial,
	'f': models.DayFailed,
	'm': models.DayMissed,
	'r': models.DayRunning,
	'-': models.DayNone,
}

// statusPriority ranks overall statuses worst-first for rollups. Lower is
// worse.
var statusPriority = map[models.OverallStatus]int{
	models.StatusOffline:  0,
	models.StatusNeverRan: 1,
	models.StatusFailed:   2,
	models.StatusOverdue:  3,
	models.StatusWarning:  4,
	models.StatusHealthy:  5,
	models.StatusUnknown:  6,
}

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

// Package models holds the normalized data model shared between the backup
// connector and its consumers (HTTP API, dashboard aggregation).
package models

import "time"

// OverallStatus is the derived health state of a device. It is never stored
// upstream; the connector recomputes it from data-source and storage state on
// every read.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusWarning  OverallStatus = "warning"
	StatusFailed   OverallStatus = "failed"
	StatusOverdue  OverallStatus = "overdue"
	StatusOffline  OverallStatus = "offline"
	StatusNeverRan OverallStatus = "never_ran"
	StatusUnknown  OverallStatus = "unknown"
)

// SessionStatus is the normalized state of a single backup session as
// reported by the management console.
type SessionStatus string

const (
	SessionInProcess            SessionStatus = "in_process"
	SessionFailed               SessionStatus = "failed"
	SessionAborted              SessionStatus = "aborted"
	SessionCompleted            SessionStatus = "completed"
	SessionInterrupted          SessionStatus = "interrupted"
	SessionNotStarted           SessionStatus = "not_started"
	SessionCompletedWithErrors  SessionStatus = "completed_with_errors"
	SessionInProgressWithFaults SessionStatus = "in_progress_with_faults"
	SessionOverQuota            SessionStatus = "over_quota"
	SessionNoSelection          SessionStatus = "no_selection"
	SessionRestarted            SessionStatus = "restarted"
)

// ColorBarDay classifies one calendar day of the 28-day status encoding.
type ColorBarDay string

const (
	DaySuccess ColorBarDay = "success"
	DayPartial ColorBarDay = "partial"
	DayFailed  ColorBarDay = "failed"
	DayMissed  ColorBarDay = "missed"
	DayRunning ColorBarDay = "running"
	DayNone    ColorBarDay = "none"
)

// Customer is a partner/tenant entity in the provider hierarchy.
type Customer struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Level         string        `json:"level,omitempty"`
	DeviceCount   int           `json:"device_count"`
	OverallStatus OverallStatus `json:"overall_status"`
}

// DataSource is one backup modality on a device (files, system state, a
// database engine, a hypervisor, or a cloud-mailbox tenant source).
type DataSource struct {
	Channel          string        `json:"channel"`
	ChannelName      string        `json:"channel_name"`
	LastStatus       SessionStatus `json:"last_status,omitempty"`
	LastSession      *time.Time    `json:"last_session,omitempty"`
	LastSuccess      *time.Time    `json:"last_success,omitempty"`
	SelectedBytes    int64         `json:"selected_bytes"`
	TransferredBytes int64         `json:"transferred_bytes"`
	DurationSeconds  int64         `json:"duration_seconds"`
	ErrorCount       int           `json:"error_count"`
	ColorBar         []ColorBarDay `json:"color_bar,omitempty"`
}

// Device is an individually backed-up endpoint or a hosted cloud-mailbox
// tenant (HostedTenant distinguishes seat-based cloud backup from
// device-based backup in downstream aggregation).
type Device struct {
	ID               int64         `json:"id"`
	Name             string        `json:"name"`
	CustomerID       int64         `json:"customer_id"`
	CustomerName     string        `json:"customer_name"`
	OSType           string        `json:"os_type,omitempty"`
	OSVersion        string        `json:"os_version,omitempty"`
	HostedTenant     bool          `json:"hosted_tenant"`
	StorageOnline    bool          `json:"storage_online"`
	UsedStorageBytes int64         `json:"used_storage_bytes"`
	OverallStatus    OverallStatus `json:"overall_status"`
	DataSources      []DataSource  `json:"data_sources,omitempty"`
	StatsTimestamp   *time.Time    `json:"stats_timestamp,omitempty"`
}

// DeviceFilter narrows GetDevices results. Zero values match everything.
type DeviceFilter struct {
	CustomerID int64         `json:"customer_id,omitempty"`
	Status     OverallStatus `json:"status,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// SessionHistoryEntry is one reconstructed (device, data source, day)
// backup-session observation. Entries are approximations recovered from
// snapshot diffs and are immutable once produced.
type SessionHistoryEntry struct {
	DeviceID         int64         `json:"device_id"`
	Channel          string        `json:"channel"`
	Timestamp        time.Time     `json:"timestamp"`
	Status           SessionStatus `json:"status,omitempty"`
	SelectedBytes    int64         `json:"selected_bytes"`
	TransferredBytes int64         `json:"transferred_bytes"`
	DurationSeconds  int64         `json:"duration_seconds"`
	ErrorCount       int           `json:"error_count"`
}

// DeviceError is a single error reported by the storage node for a device
// session.
type DeviceError struct {
	DeviceID  int64     `json:"device_id"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	File      string    `json:"file,omitempty"`
	Message   string    `json:"message"`
}

// DashboardSummary is the aggregate card data for the dashboard landing page.
type DashboardSummary struct {
	TotalCustomers   int                   `json:"total_customers"`
	TotalDevices     int                   `json:"total_devices"`
	HostedTenants    int                   `json:"hosted_tenants"`
	StatusCounts     map[OverallStatus]int `json:"status_counts"`
	TotalUsedBytes   int64                 `json:"total_used_bytes"`
	ActiveAlertCount int                   `json:"active_alert_count"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

// StorageStatistics aggregates storage consumption, optionally for a single
// customer. TotalBytes is 0 when the upstream statistic is unavailable; that
// placeholder is part of the contract, not an error.
type StorageStatistics struct {
	CustomerID     int64 `json:"customer_id,omitempty"`
	DeviceCount    int   `json:"device_count"`
	TotalBytes     int64 `json:"total_bytes"`
	SelectedBytes  int64 `json:"selected_bytes"`
	DevicesOffline int   `json:"devices_offline"`
}

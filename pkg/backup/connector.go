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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/carverauto/vaultradar/pkg/kv"
	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// deviceColumns is the statistics column set requested for every device
// page: identity, storage, and the full per-channel stat bundle.
var deviceColumns = buildDeviceColumns()

func buildDeviceColumns() []string {
	columns := []string{
		colDeviceID, colDeviceName, colCustomerID, colOSType, colOSVersion,
		colStorageLink, colUsedBytes, colStatsTime,
	}

	channels := []string{
		channelFiles, channelSystemState, channelMSSQL, channelExchange,
		channelVMware, channelHyperV, channelNetShares, channelMailboxes,
	}

	suffixes := []string{
		fieldStatus, fieldLastSession, fieldLastSuccess, fieldSelected,
		fieldTransferred, fieldDuration, fieldErrorCount, fieldColorBar,
	}

	for _, channel := range channels {
		for _, suffix := range suffixes {
			columns = append(columns, channel+suffix)
		}
	}

	return columns
}

// partnerRecord is the subset of the console's partner entity the connector
// keeps.
type partnerRecord struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level string `json:"level"`
}

// Connector is the read-only façade over the backup provider. All methods
// serve from the stale-while-revalidate cache and fall through to the
// protocol clients on miss.
type Connector struct {
	cfg      *Config
	client   *Client
	cache    *Cache
	rest     *restClient
	nodes    *storageNodeClient
	history  *historyReconstructor
	recovery *recoveryFetcher
	mapper   *dataMapper
	logger   logger.Logger
	now      func() time.Time
}

// NewConnector validates cfg and wires the protocol clients against the
// shared store.
func NewConnector(cfg *Config, store kv.KVStore, log logger.Logger) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("connector config: %w", err)
	}

	componentLog := log.WithComponent("backup-connector")

	client := NewClient(cfg, store, componentLog)
	cache := NewCache(store, componentLog)
	rest := newRESTClient(client)

	return &Connector{
		cfg:      cfg,
		client:   client,
		cache:    cache,
		rest:     rest,
		nodes:    newStorageNodeClient(client, cache),
		history:  newHistoryReconstructor(client, cache, componentLog),
		recovery: newRecoveryFetcher(rest, cache, client.keys, componentLog),
		mapper:   newDataMapper(componentLog),
		logger:   componentLog,
		now:      time.Now,
	}, nil
}

// GetCustomers lists the partner hierarchy with device counts and rolled-up
// status per customer.
func (c *Connector) GetCustomers(ctx context.Context) ([]models.Customer, error) {
	partners, err := c.partners(ctx)
	if err != nil {
		return nil, err
	}

	devices, err := c.devices(ctx)
	if err != nil {
		return nil, err
	}

	byCustomer := make(map[int64][]models.Device)
	for _, device := range devices {
		byCustomer[device.CustomerID] = append(byCustomer[device.CustomerID], device)
	}

	customers := make([]models.Customer, 0, len(partners))

	for _, partner := range partners {
		owned := byCustomer[partner.ID]

		customers = append(customers, models.Customer{
			ID:            partner.ID,
			Name:          partner.Name,
			Level:         partner.Level,
			DeviceCount:   len(owned),
			OverallStatus: rollupCustomerStatus(owned),
		})

		delete(byCustomer, partner.ID)
	}

	// Devices whose partner the hierarchy does not list still surface
	// under a synthetic customer.
	for id, owned := range byCustomer {
		customers = append(customers, models.Customer{
			ID:            id,
			Name:          partnerName(nil, id),
			DeviceCount:   len(owned),
			OverallStatus: rollupCustomerStatus(owned),
		})
	}

	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })

	return customers, nil
}

// GetDevices lists devices, optionally narrowed by the filter.
func (c *Connector) GetDevices(ctx context.Context, filter models.DeviceFilter) ([]models.Device, error) {
	devices, err := c.devices(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]models.Device, 0, len(devices))

	for _, device := range devices {
		if filter.CustomerID != 0 && device.CustomerID != filter.CustomerID {
			continue
		}

		if filter.Status != "" && device.OverallStatus != filter.Status {
			continue
		}

		if filter.Name != "" && !strings.Contains(strings.ToLower(device.Name), strings.ToLower(filter.Name)) {
			continue
		}

		filtered = append(filtered, device)
	}

	return filtered, nil
}

// GetDeviceByID returns one device or errDeviceNotFound.
func (c *Connector) GetDeviceByID(ctx context.Context, deviceID int64) (models.Device, error) {
	devices, err := c.devices(ctx)
	if err != nil {
		return models.Device{}, err
	}

	for _, device := range devices {
		if device.ID == deviceID {
			return device, nil
		}
	}

	return models.Device{}, fmt.Errorf("%w: %d", errDeviceNotFound, deviceID)
}

// GetDashboardSummary aggregates fleet-wide counts for the landing page.
func (c *Connector) GetDashboardSummary(ctx context.Context) (models.DashboardSummary, error) {
	devices, err := c.devices(ctx)
	if err != nil {
		return models.DashboardSummary{}, err
	}

	summary := models.DashboardSummary{
		TotalDevices: len(devices),
		StatusCounts: make(map[models.OverallStatus]int),
		GeneratedAt:  c.now(),
	}

	customers := make(map[int64]struct{})

	for _, device := range devices {
		customers[device.CustomerID] = struct{}{}
		summary.StatusCounts[device.OverallStatus]++
		summary.TotalUsedBytes += device.UsedStorageBytes

		if device.HostedTenant {
			summary.HostedTenants++
		}
	}

	summary.TotalCustomers = len(customers)
	summary.ActiveAlertCount = len(GenerateAlerts(devices, summary.GeneratedAt))

	return summary, nil
}

// GetActiveAlerts derives the current alert list from device state.
func (c *Connector) GetActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	devices, err := c.devices(ctx)
	if err != nil {
		return nil, err
	}

	return GenerateAlerts(devices, c.now()), nil
}

// GetStorageStatistics aggregates storage consumption, fleet-wide or for
// one customer. TotalBytes stays 0 when the upstream pool statistic is
// unavailable; that placeholder is part of the contract.
func (c *Connector) GetStorageStatistics(ctx context.Context, customerID int64) (models.StorageStatistics, error) {
	devices, err := c.devices(ctx)
	if err != nil {
		return models.StorageStatistics{}, err
	}

	stats := models.StorageStatistics{CustomerID: customerID}

	for _, device := range devices {
		if customerID != 0 && device.CustomerID != customerID {
			continue
		}

		stats.DeviceCount++
		stats.TotalBytes += device.UsedStorageBytes

		for _, source := range device.DataSources {
			stats.SelectedBytes += source.SelectedBytes
		}

		if !device.StorageOnline {
			stats.DevicesOffline++
		}
	}

	return stats, nil
}

// GetDeviceSessionHistory reconstructs recent session history for a device.
func (c *Connector) GetDeviceSessionHistory(ctx context.Context, deviceID int64, days int) ([]models.SessionHistoryEntry, error) {
	if _, err := c.GetDeviceByID(ctx, deviceID); err != nil {
		return nil, err
	}

	return c.history.DeviceHistory(ctx, deviceID, days)
}

// GetDeviceErrorDetails pulls per-session errors from the device's storage
// node.
func (c *Connector) GetDeviceErrorDetails(ctx context.Context, deviceID int64) ([]models.DeviceError, error) {
	return ReadThrough(ctx, c.cache, c.client.keys.deviceErrors(deviceID),
		time.Duration(c.cfg.Freshness.DeviceErrors),
		func(ctx context.Context) ([]models.DeviceError, error) {
			return c.nodes.EnumerateSessionErrors(ctx, deviceID)
		})
}

// GetRecoveryVerification returns the latest boot-test result for a device.
func (c *Connector) GetRecoveryVerification(ctx context.Context, deviceID int64) (models.RecoveryVerification, error) {
	return c.recovery.Verification(ctx, deviceID)
}

// GetRecoveryEnabledDevices lists device ids with recovery testing
// configured.
func (c *Connector) GetRecoveryEnabledDevices(ctx context.Context) ([]int64, error) {
	return c.recovery.EnabledDevices(ctx)
}

// HealthCheck reports reachability of the management console. Never returns
// an error.
func (c *Connector) HealthCheck(ctx context.Context) models.HealthStatus {
	return c.client.HealthCheck(ctx)
}

// devices is the cached full device list: one statistics enumeration for
// the root partner subtree, mapped to the normalized model.
func (c *Connector) devices(ctx context.Context) ([]models.Device, error) {
	return ReadThrough(ctx, c.cache, c.client.keys.devices(),
		time.Duration(c.cfg.Freshness.Devices),
		func(ctx context.Context) ([]models.Device, error) {
			return c.fetchDevices(ctx)
		})
}

func (c *Connector) fetchDevices(ctx context.Context) ([]models.Device, error) {
	partnerID, err := c.client.PartnerID(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.client.Call(ctx, "EnumerateAccountStatistics", map[string]interface{}{
		"partner_id": partnerID,
		"columns":    deviceColumns,
	})
	if err != nil {
		return nil, err
	}

	var rows []wireRow
	if err := json.Unmarshal(result, &rows); err != nil {
		return nil, fmt.Errorf("decode statistics page: %w", err)
	}

	names, err := c.partnerNames(ctx)
	if err != nil {
		// Name enrichment must never block device retrieval; synthetic
		// names fill the gap.
		c.logger.Warn().Err(err).Msg("Partner name resolution failed, using placeholders")

		names = nil
	}

	return c.mapper.mapDevices(rows, names), nil
}

// partners is the cached partner hierarchy below the root partner.
func (c *Connector) partners(ctx context.Context) ([]partnerRecord, error) {
	return ReadThrough(ctx, c.cache, c.client.keys.partners(),
		time.Duration(c.cfg.Freshness.Partners),
		func(ctx context.Context) ([]partnerRecord, error) {
			partnerID, err := c.client.PartnerID(ctx)
			if err != nil {
				return nil, err
			}

			result, err := c.client.Call(ctx, "EnumeratePartners", map[string]interface{}{
				"parent_id": partnerID,
			})
			if err != nil {
				return nil, err
			}

			var partners []partnerRecord
			if err := json.Unmarshal(result, &partners); err != nil {
				return nil, fmt.Errorf("decode partner list: %w", err)
			}

			return partners, nil
		})
}

func (c *Connector) partnerNames(ctx context.Context) (map[int64]string, error) {
	partners, err := c.partners(ctx)
	if err != nil {
		return nil, err
	}

	names := make(map[int64]string, len(partners))
	for _, partner := range partners {
		names[partner.ID] = partner.Name
	}

	return names, nil
}

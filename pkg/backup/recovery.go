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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// recoveryStatusResource is the REST attributes payload of one
// disaster-recovery verification record.
type recoveryStatusResource struct {
	DeviceID        int64    `json:"device_id"`
	Status          string   `json:"status"`
	TestedAt        int64    `json:"tested_at"`
	BootTimeSeconds int64    `json:"boot_time_seconds"`
	Message         string   `json:"message"`
	ScreenshotID    string   `json:"screenshot_file_id"`
	SystemLogID     string   `json:"system_log_file_id"`
	StoppedServices []string `json:"stopped_services"`
}

// recoveryFetcher retrieves disaster-recovery verification results over the
// secondary protocol, including the boot screenshot and system log behind
// temporary signed URLs.
type recoveryFetcher struct {
	rest   *restClient
	cache  *Cache
	keys   keyspace
	logger logger.Logger
}

func newRecoveryFetcher(rest *restClient, cache *Cache, keys keyspace, log logger.Logger) *recoveryFetcher {
	return &recoveryFetcher{rest: rest, cache: cache, keys: keys, logger: log}
}

// Verification returns the latest boot-test result for the device. A device
// with no recovery testing configured yields Available=false, not an error.
func (r *recoveryFetcher) Verification(ctx context.Context, deviceID int64) (models.RecoveryVerification, error) {
	return ReadThrough(ctx, r.cache, r.keys.recovery(deviceID),
		time.Duration(r.rest.client.cfg.Freshness.Recovery),
		func(ctx context.Context) (models.RecoveryVerification, error) {
			return r.fetch(ctx, deviceID)
		})
}

// EnabledDevices lists the device ids with recovery testing configured.
func (r *recoveryFetcher) EnabledDevices(ctx context.Context) ([]int64, error) {
	return ReadThrough(ctx, r.cache, r.keys.recoveryIndex(),
		time.Duration(r.rest.client.cfg.Freshness.RecoveryIndex),
		func(ctx context.Context) ([]int64, error) {
			resources, err := r.rest.List(ctx, "draas/recovery-status", nil)
			if err != nil {
				return nil, err
			}

			ids := make([]int64, 0, len(resources))

			for _, resource := range resources {
				var attrs recoveryStatusResource
				if err := json.Unmarshal(resource.Attributes, &attrs); err != nil {
					continue
				}

				if attrs.DeviceID != 0 {
					ids = append(ids, attrs.DeviceID)
				}
			}

			return ids, nil
		})
}

func (r *recoveryFetcher) fetch(ctx context.Context, deviceID int64) (models.RecoveryVerification, error) {
	resources, err := r.rest.List(ctx, "draas/recovery-status", map[string]string{
		"device_id": strconv.FormatInt(deviceID, 10),
	})
	if err != nil {
		if errIsNotFound(err) {
			return models.RecoveryVerification{DeviceID: deviceID, Available: false}, nil
		}

		return models.RecoveryVerification{}, err
	}

	if len(resources) == 0 {
		return models.RecoveryVerification{DeviceID: deviceID, Available: false}, nil
	}

	var attrs recoveryStatusResource
	if err := json.Unmarshal(resources[0].Attributes, &attrs); err != nil {
		return models.RecoveryVerification{}, fmt.Errorf("decode recovery status: %w", err)
	}

	verification := models.RecoveryVerification{
		DeviceID:        deviceID,
		Available:       true,
		Passed:          strings.EqualFold(attrs.Status, "passed") || strings.EqualFold(attrs.Status, "success"),
		BootTimeSeconds: attrs.BootTimeSeconds,
		Message:         attrs.Message,
		StoppedServices: attrs.StoppedServices,
	}

	if attrs.TestedAt > 0 {
		t := time.Unix(attrs.TestedAt, 0).UTC()
		verification.TestedAt = &t
	}

	// Artifact failures degrade to a partial record; the summary alone is
	// still worth returning.
	if attrs.ScreenshotID != "" {
		screenshot, err := r.fetchArtifact(ctx, attrs.ScreenshotID)
		if err != nil {
			r.logger.Warn().Err(err).Int64("device_id", deviceID).Msg("Failed to fetch boot screenshot")

			verification.Partial = true
		} else {
			verification.ScreenshotDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(screenshot)
		}
	}

	if attrs.SystemLogID != "" {
		raw, err := r.fetchArtifact(ctx, attrs.SystemLogID)
		if err != nil {
			r.logger.Warn().Err(err).Int64("device_id", deviceID).Msg("Failed to fetch system log")

			verification.Partial = true
		} else {
			verification.SystemLog = decodeSystemLog(raw)
		}
	}

	return verification, nil
}

func (r *recoveryFetcher) fetchArtifact(ctx context.Context, fileID string) ([]byte, error) {
	signed, err := r.rest.IssueTemporaryURL(ctx, fileID)
	if err != nil {
		return nil, err
	}

	return r.rest.FetchArtifact(ctx, signed)
}

// decodeSystemLog normalizes the boot-test log, whose upstream encoding is
// not guaranteed: gzip first, then JSON array, then a base64 wrapper around
// either of those, then plain text.
func decodeSystemLog(raw []byte) []string {
	if unzipped, err := gunzip(raw); err == nil {
		raw = unzipped
	}

	if lines, ok := systemLogLines(raw); ok {
		return lines
	}

	// The base64 wrapper is only trusted when the decoded bytes turn out to
	// be gzip or JSON: a short plain-text log can be valid base64 by
	// coincidence, and unwrapping it would return garbage.
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw))); err == nil {
		if unzipped, err := gunzip(decoded); err == nil {
			if lines, ok := systemLogLines(unzipped); ok {
				return lines
			}

			return splitLogLines(unzipped)
		}

		if lines, ok := systemLogLines(decoded); ok {
			return lines
		}
	}

	return splitLogLines(raw)
}

// systemLogLines tries the structured JSON form: an array of strings.
func systemLogLines(raw []byte) ([]string, bool) {
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, false
	}

	return lines, true
}

func splitLogLines(raw []byte) []string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil
	}

	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func gunzip(raw []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

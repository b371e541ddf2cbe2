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

// Package api exposes the backup connector façade as a read-only JSON API
// for the dashboard frontend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/vaultradar/pkg/backup"
	srHttp "github.com/carverauto/vaultradar/pkg/http"
	"github.com/carverauto/vaultradar/pkg/logger"
	"github.com/carverauto/vaultradar/pkg/models"
)

// Connector is the read-only façade the API serves. Satisfied by
// *backup.Connector; narrowed here so handlers are testable with a stub.
type Connector interface {
	GetCustomers(ctx context.Context) ([]models.Customer, error)
	GetDevices(ctx context.Context, filter models.DeviceFilter) ([]models.Device, error)
	GetDeviceByID(ctx context.Context, deviceID int64) (models.Device, error)
	GetDashboardSummary(ctx context.Context) (models.DashboardSummary, error)
	GetActiveAlerts(ctx context.Context) ([]models.Alert, error)
	GetStorageStatistics(ctx context.Context, customerID int64) (models.StorageStatistics, error)
	GetDeviceSessionHistory(ctx context.Context, deviceID int64, days int) ([]models.SessionHistoryEntry, error)
	GetDeviceErrorDetails(ctx context.Context, deviceID int64) ([]models.DeviceError, error)
	GetRecoveryVerification(ctx context.Context, deviceID int64) (models.RecoveryVerification, error)
	GetRecoveryEnabledDevices(ctx context.Context) ([]int64, error)
	HealthCheck(ctx context.Context) models.HealthStatus
}

var _ Connector = (*backup.Connector)(nil)

// Server routes dashboard requests to the connector.
type Server struct {
	connector Connector
	router    *mux.Router
	apiKey    string
	logger    logger.Logger
}

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// WithAPIKey requires the X-API-Key header (or api_key query parameter) on
// every route.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) { s.apiKey = key }
}

func NewServer(connector Connector, log logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		connector: connector,
		router:    mux.NewRouter(),
		logger:    log.WithComponent("api"),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(srHttp.CommonMiddleware(s.logger))

	if s.apiKey != "" {
		s.router.Use(srHttp.APIKeyMiddleware(s.apiKey, s.logger))
	}

	s.router.HandleFunc("/api/customers", s.getCustomers).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices", s.getDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices/{id}", s.getDevice).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices/{id}/history", s.getDeviceHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices/{id}/errors", s.getDeviceErrors).Methods(http.MethodGet)
	s.router.HandleFunc("/api/devices/{id}/recovery", s.getDeviceRecovery).Methods(http.MethodGet)
	s.router.HandleFunc("/api/summary", s.getSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/api/alerts", s.getAlerts).Methods(http.MethodGet)
	s.router.HandleFunc("/api/storage", s.getStorage).Methods(http.MethodGet)
	s.router.HandleFunc("/api/recovery-enabled", s.getRecoveryEnabled).Methods(http.MethodGet)
	s.router.HandleFunc("/api/health", s.getHealth).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) getCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := s.connector.GetCustomers(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, customers)
}

func (s *Server) getDevices(w http.ResponseWriter, r *http.Request) {
	filter := models.DeviceFilter{
		Status: models.OverallStatus(r.URL.Query().Get("status")),
		Name:   r.URL.Query().Get("name"),
	}

	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeStatus(w, http.StatusBadRequest, "invalid customer_id")

			return
		}

		filter.CustomerID = id
	}

	devices, err := s.connector.GetDevices(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, devices)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}

	device, err := s.connector.GetDeviceByID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, device)
}

func (s *Server) getDeviceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}

	days := 0

	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeStatus(w, http.StatusBadRequest, "invalid days")

			return
		}

		days = parsed
	}

	history, err := s.connector.GetDeviceSessionHistory(r.Context(), id, days)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, history)
}

func (s *Server) getDeviceErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}

	details, err := s.connector.GetDeviceErrorDetails(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, details)
}

func (s *Server) getDeviceRecovery(w http.ResponseWriter, r *http.Request) {
	id, ok := s.deviceID(w, r)
	if !ok {
		return
	}

	verification, err := s.connector.GetRecoveryVerification(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, verification)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.connector.GetDashboardSummary(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, summary)
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.connector.GetActiveAlerts(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, alerts)
}

func (s *Server) getStorage(w http.ResponseWriter, r *http.Request) {
	var customerID int64

	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeStatus(w, http.StatusBadRequest, "invalid customer_id")

			return
		}

		customerID = parsed
	}

	stats, err := s.connector.GetStorageStatistics(r.Context(), customerID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.writeJSON(w, stats)
}

func (s *Server) getRecoveryEnabled(w http.ResponseWriter, r *http.Request) {
	ids, err := s.connector.GetRecoveryEnabledDevices(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if ids == nil {
		ids = []int64{}
	}

	s.writeJSON(w, ids)
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := s.connector.HealthCheck(r.Context())

	if !status.OK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(status)

		return
	}

	s.writeJSON(w, status)
}

func (s *Server) deviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, "invalid device id")

		return 0, false
	}

	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if backup.IsNotFound(err) {
		s.writeStatus(w, http.StatusNotFound, err.Error())

		return
	}

	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	s.writeStatus(w, http.StatusBadGateway, "upstream request failed")
}

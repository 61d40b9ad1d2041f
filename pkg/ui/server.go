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

package ui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/carverauto/fieldgate/pkg/cloud"
	fgHttp "github.com/carverauto/fieldgate/pkg/http"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

const nameRefreshInterval = time.Minute

// Directory lists the device records the snapshot covers, keyed by shortId.
// *registry.Registry satisfies it via Records.
type Directory interface {
	Records() map[string]*models.DeviceRecord
}

// DeviceLister fetches human-readable device names from the cloud.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error)
}

// Server exposes the viewer surface: the WebSocket update stream and the
// full-state snapshot endpoint.
type Server struct {
	port        int
	broadcaster *Broadcaster
	directory   Directory
	lister      DeviceLister
	logger      logger.Logger

	nameMu      sync.Mutex
	names       map[string]string
	lastListing time.Time

	httpServer *http.Server
}

func NewServer(port int, broadcaster *Broadcaster, directory Directory, lister DeviceLister, log logger.Logger) *Server {
	return &Server{
		port:        port,
		broadcaster: broadcaster,
		directory:   directory,
		lister:      lister,
		logger:      log,
	}
}

// Start serves until ctx is canceled. Bind failures are returned so the
// caller can treat them as fatal.
func (s *Server) Start(ctx context.Context) error {
	router := mux.NewRouter()
	router.Use(fgHttp.CommonMiddleware(s.logger))
	router.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/ws", s.broadcaster.ServeWS)
	router.HandleFunc("/", s.broadcaster.ServeWS)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.port),
		Handler:     router,
		ReadTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Msg("UI server is listening")

	errCh := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("UI server failed: %w", err)
	}
}

// handleDevices serves the full-state snapshot: every known device with its
// last seen position and telemetry, ordered by shortId.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	records := s.directory.Records()

	shortIDs := make([]string, 0, len(records))
	for shortID := range records {
		shortIDs = append(shortIDs, shortID)
	}

	sort.Slice(shortIDs, func(i, j int) bool { return lessShortID(shortIDs[i], shortIDs[j]) })

	snapshots := make([]models.DeviceSnapshot, 0, len(shortIDs))

	for _, shortID := range shortIDs {
		record := records[shortID]

		snap := s.broadcaster.SnapshotFor(record.DeviceID)
		snap.ShortID = shortID
		snap.Name = s.deviceName(r.Context(), record.DeviceID)

		snapshots = append(snapshots, snap)
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(snapshots); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode device snapshot")
	}
}

// deviceName resolves a cloud deviceId to its display name, refreshing the
// listing at most once per interval. Unknown devices fall back to their id.
func (s *Server) deviceName(ctx context.Context, deviceID string) string {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()

	if name, ok := s.names[deviceID]; ok {
		return name
	}

	if time.Since(s.lastListing) >= nameRefreshInterval {
		s.lastListing = time.Now()

		devices, err := s.lister.ListDevices(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to list device names")
		} else {
			s.names = make(map[string]string, len(devices))
			for _, d := range devices {
				s.names[d.ID] = d.Name
			}
		}
	}

	if name, ok := s.names[deviceID]; ok && name != "" {
		return name
	}

	return deviceID
}

// lessShortID orders numeric shortIds numerically and falls back to a
// lexical comparison for anything else.
func lessShortID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)

	if aerr == nil && berr == nil {
		return ai < bi
	}

	return a < b
}

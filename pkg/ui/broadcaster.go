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

// Package ui pushes live device state to map viewers over WebSocket and
// serves the full-state snapshot endpoint.
package ui

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

const (
	viewerSendBuffer = 32
	writeTimeout     = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Viewers connect from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// deviceState is the last known state of one device, keyed by cloud
// deviceId. Rebuilt from live traffic and backfill, never persisted.
type deviceState struct {
	geo         *models.GeoFix
	cell        *models.CellGeolocation
	app         models.DeviceAppState
	imei        string
	networkInfo json.RawMessage
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Broadcaster fans incremental state updates out to all connected
// viewers. A slow or dead viewer is disconnected rather than allowed to
// stall the others.
type Broadcaster struct {
	logger logger.Logger

	mu      sync.RWMutex
	state   map[string]*deviceState
	viewers map[*viewer]struct{}
}

func NewBroadcaster(log logger.Logger) *Broadcaster {
	return &Broadcaster{
		logger:  log,
		state:   make(map[string]*deviceState),
		viewers: make(map[*viewer]struct{}),
	}
}

// ServeWS upgrades the request and registers the viewer. All connections
// are accepted; the stream carries no secrets beyond device telemetry.
func (b *Broadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, viewerSendBuffer)}

	b.mu.Lock()
	b.viewers[v] = struct{}{}
	count := len(b.viewers)
	b.mu.Unlock()

	b.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Int("viewers", count).
		Msg("Viewer connected")

	go b.writePump(v)
	go b.readPump(v)
}

// writePump drains the viewer's send queue. Exits on write error or when
// the queue is closed by removeViewer.
func (b *Broadcaster) writePump(v *viewer) {
	defer func() { _ = v.conn.Close() }()

	for frame := range v.send {
		_ = v.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

		if err := v.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			b.removeViewer(v, err)
			return
		}
	}
}

// readPump discards inbound frames; viewers are receive-only. Its real job
// is noticing the close handshake.
func (b *Broadcaster) readPump(v *viewer) {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			b.removeViewer(v, err)
			return
		}
	}
}

func (b *Broadcaster) removeViewer(v *viewer, cause error) {
	b.mu.Lock()
	_, present := b.viewers[v]
	if present {
		delete(b.viewers, v)
		close(v.send)
	}
	count := len(b.viewers)
	b.mu.Unlock()

	if !present {
		return
	}

	_ = v.conn.Close()

	b.logger.Info().
		Err(cause).
		Int("viewers", count).
		Msg("Viewer disconnected")
}

// broadcast marshals one update frame and queues it to every viewer.
// Viewers whose queue is full are dropped; they can reconnect and fetch a
// fresh snapshot.
func (b *Broadcaster) broadcast(update models.ViewerUpdate) {
	frame, err := json.Marshal(update)
	if err != nil {
		return
	}

	b.mu.RLock()
	stalled := make([]*viewer, 0)

	for v := range b.viewers {
		select {
		case v.send <- frame:
		default:
			stalled = append(stalled, v)
		}
	}
	b.mu.RUnlock()

	for _, v := range stalled {
		b.removeViewer(v, websocket.ErrCloseSent)
	}
}

// ViewerCount reports the number of connected viewers.
func (b *Broadcaster) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.viewers)
}

func (b *Broadcaster) stateFor(deviceID string) *deviceState {
	s, ok := b.state[deviceID]
	if !ok {
		s = &deviceState{}
		b.state[deviceID] = s
	}

	return s
}

// UpdateGeolocation records and broadcasts a fresh GPS fix.
func (b *Broadcaster) UpdateGeolocation(deviceID string, fix models.GeoFix) {
	b.mu.Lock()
	b.stateFor(deviceID).geo = &fix
	b.mu.Unlock()

	b.broadcast(models.ViewerUpdate{DeviceID: deviceID, Geolocation: &fix})
}

// UpdateCellGeolocation records and broadcasts a cell tower position.
func (b *Broadcaster) UpdateCellGeolocation(deviceID string, location models.CellGeolocation) {
	b.mu.Lock()
	b.stateFor(deviceID).cell = &location
	b.mu.Unlock()

	b.broadcast(models.ViewerUpdate{DeviceID: deviceID, CellGeolocation: &location})
}

// UpdateAppState merges transformed telemetry fields into the device state
// and broadcasts only the changed fields.
func (b *Broadcaster) UpdateAppState(deviceID string, fields models.DeviceAppState) {
	if len(fields) == 0 {
		return
	}

	b.mu.Lock()
	s := b.stateFor(deviceID)

	if s.app == nil {
		s.app = make(models.DeviceAppState, len(fields))
	}

	for k, v := range fields {
		s.app[k] = v
	}
	b.mu.Unlock()

	b.broadcast(models.ViewerUpdate{DeviceID: deviceID, Update: fields.Clone()})
}

// UpdateNetworkInfo records and broadcasts the raw reported network info.
func (b *Broadcaster) UpdateNetworkInfo(deviceID string, raw json.RawMessage) {
	b.mu.Lock()
	b.stateFor(deviceID).networkInfo = raw
	b.mu.Unlock()

	b.broadcast(models.ViewerUpdate{DeviceID: deviceID, NetworkInfo: raw})
}

// UpdateIMEI records and broadcasts the device IMEI.
func (b *Broadcaster) UpdateIMEI(deviceID, imei string) {
	b.mu.Lock()
	b.stateFor(deviceID).imei = imei
	b.mu.Unlock()

	b.broadcast(models.ViewerUpdate{DeviceID: deviceID, IMEI: imei})
}

// SnapshotFor returns an independent copy of the tracked state for one
// device, or zero values when nothing has been seen yet.
func (b *Broadcaster) SnapshotFor(deviceID string) models.DeviceSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := models.DeviceSnapshot{DeviceID: deviceID}

	s, ok := b.state[deviceID]
	if !ok {
		return snap
	}

	if s.geo != nil {
		geo := *s.geo
		snap.Geolocation = &geo
	}

	if s.cell != nil {
		cell := *s.cell
		snap.CellGeolocation = &cell
	}

	snap.AppState = s.app.Clone()
	snap.IMEI = s.imei

	if s.networkInfo != nil {
		snap.NetworkInfo = append(json.RawMessage(nil), s.networkInfo...)
	}

	return snap
}

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

// Package router classifies inbound device messages, applies per-appId
// transforms and filters, drives geolocation enrichment and forwards to
// both the cloud link and the UI broadcaster.
package router

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/nmea"
)

// Device is the per-device cloud handle the router publishes through.
// *registry.Connection satisfies it.
type Device interface {
	ShortID() string
	DeviceID() string
	Publish(ctx context.Context, payload []byte) error
	UpdateShadow(ctx context.Context, patch []byte) error
}

// DeviceResolver hands out (and JIT-registers) device handles.
type DeviceResolver interface {
	Resolve(ctx context.Context, shortID string) (Device, error)
}

// GeoResolver resolves cell tower queries to approximate positions.
type GeoResolver interface {
	Resolve(ctx context.Context, cell models.CellQuery) (*models.CellGeolocation, error)
}

// UISink receives live state updates for broadcast to viewers.
type UISink interface {
	UpdateGeolocation(deviceID string, fix models.GeoFix)
	UpdateCellGeolocation(deviceID string, location models.CellGeolocation)
	UpdateAppState(deviceID string, fields models.DeviceAppState)
	UpdateNetworkInfo(deviceID string, raw json.RawMessage)
	UpdateIMEI(deviceID, imei string)
}

// Router processes inbound messages with per-device arrival ordering.
// Messages for different devices are handled fully in parallel.
type Router struct {
	devices DeviceResolver
	geo     GeoResolver
	ui      UISink
	logger  logger.Logger
	now     func() time.Time

	workers *workerPool
}

func New(devices DeviceResolver, geo GeoResolver, ui UISink, log logger.Logger) *Router {
	r := &Router{
		devices: devices,
		geo:     geo,
		ui:      ui,
		logger:  log,
		now:     time.Now,
	}
	r.workers = newWorkerPool()

	return r
}

// HandleMessage enqueues a raw device payload for processing. It never
// blocks: the UDP receive loop calls this inline.
func (r *Router) HandleMessage(ctx context.Context, shortID string, raw []byte) {
	r.workers.enqueue(shortID, func() {
		r.process(ctx, shortID, raw)
	})
}

// Wait blocks until all enqueued work has drained. Used by shutdown and
// tests.
func (r *Router) Wait() {
	r.workers.wait()
}

func (r *Router) process(ctx context.Context, shortID string, raw []byte) {
	msg, err := models.ParseInbound(raw)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("short_id", shortID).
			Str("payload", string(raw)).
			Msg("Dropping unclassifiable message")

		return
	}

	device, err := r.devices.Resolve(ctx, shortID)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("short_id", shortID).
			Msg("Failed to resolve device connection")

		return
	}

	switch msg.Kind {
	case models.KindShadowUpdate:
		r.handleShadow(ctx, device, msg.Shadow)
	case models.KindManualGeoOverride:
		r.handleGeoOverride(ctx, device, msg.Override)
	case models.KindAppMessage:
		r.handleApp(ctx, device, msg.App)
	}
}

// handleShadow forwards the state document verbatim and enriches the
// reported network info with a cell geolocation, asynchronously so a slow
// provider stalls only its own task.
func (r *Router) handleShadow(ctx context.Context, device Device, shadow *models.ShadowUpdate) {
	if err := device.UpdateShadow(ctx, shadow.Raw); err != nil {
		r.logger.Error().
			Err(err).
			Str("device_id", device.DeviceID()).
			Msg("Failed to update shadow")
	}

	if shadow.IMEI != "" {
		r.ui.UpdateIMEI(device.DeviceID(), shadow.IMEI)
	}

	if shadow.NetworkInfo != nil {
		r.ui.UpdateNetworkInfo(device.DeviceID(), shadow.NetworkInfo.Raw)
		go r.resolveCell(ctx, device.DeviceID(), shadow.NetworkInfo.CellQuery())
	}
}

func (r *Router) resolveCell(ctx context.Context, deviceID string, cell models.CellQuery) {
	location, err := r.geo.Resolve(ctx, cell)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("device_id", deviceID).
			Int("mccmnc", cell.MCCMNC).
			Int("area", cell.AreaCode).
			Int("cell", cell.CellID).
			Msg("Failed to resolve cell geolocation")

		return
	}

	r.ui.UpdateCellGeolocation(deviceID, *location)
}

// handleGeoOverride turns an operator-injected position into a synthetic
// GPS fix: viewers see it directly, and an equivalent GPS application
// message goes to the cloud so downstream consumers observe a consistent
// event.
func (r *Router) handleGeoOverride(ctx context.Context, device Device, override *models.ManualGeoOverride) {
	fix := models.GeoFix{Lat: override.Lat, Lng: override.Lng, Timestamp: r.now()}
	r.ui.UpdateGeolocation(device.DeviceID(), fix)

	payload, err := json.Marshal(models.AppMessage{
		AppID:       models.AppIDGPS,
		MessageType: models.MessageTypeData,
		Data:        nmea.EncodeGGA(fix),
	})
	if err != nil {
		return
	}

	if err := device.Publish(ctx, payload); err != nil {
		r.logger.Error().
			Err(err).
			Str("device_id", device.DeviceID()).
			Msg("Failed to publish synthesized GPS message")
	}
}

func (r *Router) handleApp(ctx context.Context, device Device, app *models.AppMessage) {
	if app.AppID == models.AppIDGPS {
		r.handleGPS(device, app)
		r.publish(ctx, device, app)

		return
	}

	if field, ok := verbatimFields[app.AppID]; ok {
		if value, err := transformNumeric(app.AppID, app.Data); err != nil {
			r.logger.Warn().
				Err(err).
				Str("device_id", device.DeviceID()).
				Str("app_id", app.AppID).
				Str("data", app.Data).
				Msg("Telemetry value is not numeric")
		} else {
			r.ui.UpdateAppState(device.DeviceID(), models.DeviceAppState{field: value})
		}

		r.publish(ctx, device, app)

		return
	}

	if app.AppID == models.AppIDRSRP {
		r.handleRSRP(ctx, device, app)
		return
	}

	// Everything else passes through to the cloud untracked.
	r.publish(ctx, device, app)
}

func (r *Router) handleGPS(device Device, app *models.AppMessage) {
	fix, err := nmea.Decode(app.Data, r.now())
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("device_id", device.DeviceID()).
			Str("sentence", app.Data).
			Msg("Failed to decode NMEA sentence")

		return
	}

	if fix != nil {
		r.ui.UpdateGeolocation(device.DeviceID(), *fix)
	}
}

// handleRSRP forwards only plausible negative dBm readings. Non-negative
// values are firmware sentinels and are dropped entirely.
func (r *Router) handleRSRP(ctx context.Context, device Device, app *models.AppMessage) {
	value, err := strconv.ParseFloat(app.Data, 64)
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("device_id", device.DeviceID()).
			Str("data", app.Data).
			Msg("Signal strength value is not numeric")

		return
	}

	if value >= 0 {
		r.logger.Debug().
			Str("device_id", device.DeviceID()).
			Float64("rsrp", value).
			Msg("Filtered out sentinel signal strength reading")

		return
	}

	r.ui.UpdateAppState(device.DeviceID(), models.DeviceAppState{fieldRSRP: value})
	r.publish(ctx, device, app)
}

func (r *Router) publish(ctx context.Context, device Device, app *models.AppMessage) {
	payload := []byte(app.Raw)
	if payload == nil {
		var err error

		payload, err = json.Marshal(app)
		if err != nil {
			return
		}
	}

	if err := device.Publish(ctx, payload); err != nil {
		r.logger.Error().
			Err(err).
			Str("device_id", device.DeviceID()).
			Str("app_id", app.AppID).
			Msg("Failed to publish application message")
	}
}

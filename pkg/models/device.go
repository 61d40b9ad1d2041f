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

// Package models defines the shared data model for the fieldgate gateway.
package models

import (
	"encoding/json"
	"time"
)

// DeviceRecord is the persisted identity of one field device. Certificate
// material is opaque PEM. Records are created by provisioning or JIT
// registration and mutated only to flip Associated.
type DeviceRecord struct {
	ShortID       string `json:"shortId"`
	DeviceID      string `json:"deviceId"`
	OwnershipCode string `json:"ownershipCode"`
	CACert        string `json:"caCert"`
	PrivateKey    string `json:"privateKey"`
	ClientCert    string `json:"clientCert"`
	Associated    bool   `json:"associated,omitempty"`
}

// GeoFix is a parsed GPS position. It replaces any prior fix for the device.
type GeoFix struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"ts"`
}

// CellQuery identifies a cell tower. It is a value type so it can key the
// geolocation cache structurally.
type CellQuery struct {
	MCCMNC   int `json:"mccmnc"`
	AreaCode int `json:"areaCode"`
	CellID   int `json:"cellID"`
}

// CellGeolocation is an approximate position derived from cell tower
// identifiers. Cached per CellQuery for the process lifetime.
type CellGeolocation struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Accuracy   float64   `json:"accuracy"`
	ResolvedAt time.Time `json:"ts"`
}

// DeviceAppState maps a transformed telemetry field name (temperature,
// humidity, pressure, airQuality, rsrp) to its last seen value. It is
// rebuilt from live traffic and backfill, never persisted.
type DeviceAppState map[string]float64

// Clone returns an independent copy so snapshots do not alias live state.
func (s DeviceAppState) Clone() DeviceAppState {
	if s == nil {
		return nil
	}

	out := make(DeviceAppState, len(s))
	for k, v := range s {
		out[k] = v
	}

	return out
}

// DeviceSnapshot is one entry of the full-state snapshot served to UI
// consumers.
type DeviceSnapshot struct {
	ShortID         string           `json:"shortId"`
	DeviceID        string           `json:"deviceId"`
	Name            string           `json:"name"`
	Geolocation     *GeoFix          `json:"geolocation,omitempty"`
	CellGeolocation *CellGeolocation `json:"cellGeolocation,omitempty"`
	AppState        DeviceAppState   `json:"state,omitempty"`
	IMEI            string           `json:"imei,omitempty"`
	NetworkInfo     json.RawMessage  `json:"networkInfo,omitempty"`
}

// ViewerUpdate is one incremental update frame pushed to WebSocket viewers.
// Exactly one of the optional fields is set per frame.
type ViewerUpdate struct {
	DeviceID        string           `json:"deviceId"`
	Geolocation     *GeoFix          `json:"geolocation,omitempty"`
	CellGeolocation *CellGeolocation `json:"cellGeolocation,omitempty"`
	Update          DeviceAppState   `json:"update,omitempty"`
	NetworkInfo     json.RawMessage  `json:"networkInfo,omitempty"`
	IMEI            string           `json:"imei,omitempty"`
}

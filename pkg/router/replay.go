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

package router

import (
	"context"
	"strconv"

	"github.com/carverauto/fieldgate/pkg/models"
	"github.com/carverauto/fieldgate/pkg/nmea"
)

// ReplayAppMessage runs a historical application message through the same
// transform path as live traffic, but only towards the UI. Backfill never
// republishes to the cloud.
func (r *Router) ReplayAppMessage(deviceID, appID, data string) {
	switch {
	case appID == models.AppIDGPS:
		fix, err := nmea.Decode(data, r.now())
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("device_id", deviceID).
				Msg("Failed to decode historical NMEA sentence")

			return
		}

		if fix != nil {
			r.ui.UpdateGeolocation(deviceID, *fix)
		}
	case appID == models.AppIDRSRP:
		value, err := strconv.ParseFloat(data, 64)
		if err != nil || value >= 0 {
			return
		}

		r.ui.UpdateAppState(deviceID, models.DeviceAppState{fieldRSRP: value})
	default:
		field, ok := verbatimFields[appID]
		if !ok {
			return
		}

		value, err := transformNumeric(appID, data)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("device_id", deviceID).
				Str("app_id", appID).
				Msg("Historical telemetry value is not numeric")

			return
		}

		r.ui.UpdateAppState(deviceID, models.DeviceAppState{field: value})
	}
}

// ReplayShadow routes a historical shadow document through the same
// enrichment path as a live shadow update, minus the cloud forward.
func (r *Router) ReplayShadow(ctx context.Context, deviceID string, shadow *models.ShadowUpdate) {
	if shadow == nil {
		return
	}

	if shadow.IMEI != "" {
		r.ui.UpdateIMEI(deviceID, shadow.IMEI)
	}

	if shadow.NetworkInfo != nil {
		r.ui.UpdateNetworkInfo(deviceID, shadow.NetworkInfo.Raw)
		go r.resolveCell(ctx, deviceID, shadow.NetworkInfo.CellQuery())
	}
}

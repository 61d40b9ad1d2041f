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
	"fmt"
	"strconv"

	"github.com/carverauto/fieldgate/pkg/models"
)

// Transformed field names as they appear in DeviceAppState and viewer
// update frames.
const (
	fieldTemperature = "temperature"
	fieldHumidity    = "humidity"
	fieldPressure    = "pressure"
	fieldAirQuality  = "airQuality"
	fieldRSRP        = "rsrp"
)

// airPressureScale normalizes the device's kPa/10 readings to hPa.
const airPressureScale = 10

// verbatimFields maps appIds whose numeric value is tracked (and broadcast)
// as-is, modulo unit scaling, to their state field name.
var verbatimFields = map[string]string{
	models.AppIDTemperature: fieldTemperature,
	models.AppIDHumidity:    fieldHumidity,
	models.AppIDAirPressure: fieldPressure,
	models.AppIDAirQuality:  fieldAirQuality,
}

func transformNumeric(appID, data string) (float64, error) {
	value, err := strconv.ParseFloat(data, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s value: %w", appID, err)
	}

	if appID == models.AppIDAirPressure {
		value *= airPressureScale
	}

	return value, nil
}

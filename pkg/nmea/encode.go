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

package nmea

import (
	"fmt"
	"math"

	"github.com/carverauto/fieldgate/pkg/models"
)

// EncodeGGA renders a position as a valid GGA sentence so synthesized
// fixes travel the same path as real receiver output.
func EncodeGGA(fix models.GeoFix) string {
	latHemi := "N"
	if fix.Lat < 0 {
		latHemi = "S"
	}

	lngHemi := "E"
	if fix.Lng < 0 {
		lngHemi = "W"
	}

	payload := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,08,1.0,0.0,M,0.0,M,,",
		fix.Timestamp.UTC().Format("150405.00"),
		encodeLatLon(fix.Lat, 2),
		latHemi,
		encodeLatLon(fix.Lng, 3),
		lngHemi,
	)

	checksum := byte(0)
	for i := 0; i < len(payload); i++ {
		checksum ^= payload[i]
	}

	return fmt.Sprintf("$%s*%02X", payload, checksum)
}

// encodeLatLon renders decimal degrees as (d)ddmm.mmmm with degWidth
// degree digits.
func encodeLatLon(value float64, degWidth int) string {
	abs := math.Abs(value)
	deg := int(abs)
	mins := (abs - float64(deg)) * 60

	return fmt.Sprintf("%0*d%07.4f", degWidth, deg, mins)
}

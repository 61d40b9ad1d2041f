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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/models"
)

// frame wraps an NMEA payload with start marker and computed checksum.
func frame(payload string) string {
	ck := byte(0)
	for i := 0; i < len(payload); i++ {
		ck ^= payload[i]
	}

	return fmt.Sprintf("$%s*%02X", payload, ck)
}

func TestParseSentence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		wantType string
		wantErr  error
	}{
		{
			name:     "valid GGA",
			line:     "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
			wantType: "GGA",
		},
		{
			name:     "GN talker normalizes",
			line:     frame("GNGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,"),
			wantType: "GGA",
		},
		{
			name:    "missing start marker",
			line:    "GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47",
			wantErr: ErrMissingStart,
		},
		{
			name:    "missing checksum",
			line:    "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,",
			wantErr: ErrMissingChecksum,
		},
		{
			name:    "corrupted checksum",
			line:    "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48",
			wantErr: ErrChecksumMatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sentence, err := ParseSentence(tt.line)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantType, sentence.Type)
		})
	}
}

func TestDecodeGGA(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)

	fix, err := Decode("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47", now)
	require.NoError(t, err)
	require.NotNil(t, fix)

	assert.InDelta(t, 48.1173, fix.Lat, 1e-4)
	assert.InDelta(t, 11.5166, fix.Lng, 1e-4)
	assert.Equal(t, time.Date(2026, 9, 1, 12, 35, 19, 0, time.UTC), fix.Timestamp)
}

func TestDecodeSouthWestHemispheres(t *testing.T) {
	t.Parallel()

	line := frame("GPGGA,010203.00,3345.1234,S,07030.5678,W,1,06,1.2,10.0,M,0.0,M,,")

	fix, err := Decode(line, time.Now())
	require.NoError(t, err)
	require.NotNil(t, fix)

	assert.Negative(t, fix.Lat)
	assert.Negative(t, fix.Lng)
}

func TestDecodeNoFix(t *testing.T) {
	t.Parallel()

	line := frame("GPGGA,123519,,,,,0,00,,,M,,M,,")

	fix, err := Decode(line, time.Now())
	require.NoError(t, err)
	assert.Nil(t, fix)
}

func TestDecodeIgnoresOtherSentences(t *testing.T) {
	t.Parallel()

	line := frame("GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W")

	fix, err := Decode(line, time.Now())
	require.NoError(t, err)
	assert.Nil(t, fix)
}

func TestEncodeGGARoundTrip(t *testing.T) {
	t.Parallel()

	in := models.GeoFix{
		Lat:       63.42154,
		Lng:       10.43321,
		Timestamp: time.Date(2026, 9, 1, 8, 30, 15, 0, time.UTC),
	}

	line := EncodeGGA(in)

	out, err := Decode(line, in.Timestamp)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.InDelta(t, in.Lat, out.Lat, 1e-4)
	assert.InDelta(t, in.Lng, out.Lng, 1e-4)
	assert.Equal(t, in.Timestamp.Truncate(time.Second), out.Timestamp)
}

func TestEncodeGGASouthernHemisphere(t *testing.T) {
	t.Parallel()

	in := models.GeoFix{
		Lat:       -33.8688,
		Lng:       -70.6693,
		Timestamp: time.Date(2026, 9, 1, 23, 59, 59, 0, time.UTC),
	}

	out, err := Decode(EncodeGGA(in), in.Timestamp)
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.InDelta(t, in.Lat, out.Lat, 1e-4)
	assert.InDelta(t, in.Lng, out.Lng, 1e-4)
}

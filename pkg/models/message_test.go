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

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundShadowUpdate(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"state": {
			"reported": {
				"device": {
					"networkInfo": {"mccmnc": 24201, "areaCode": 305, "cellID": 84486415},
					"deviceInfo": {"imei": "352656100367872"}
				}
			}
		}
	}`)

	msg, err := ParseInbound(raw)
	require.NoError(t, err)
	require.Equal(t, KindShadowUpdate, msg.Kind)
	require.NotNil(t, msg.Shadow)

	assert.JSONEq(t, string(raw), string(msg.Shadow.Raw))
	assert.Equal(t, "352656100367872", msg.Shadow.IMEI)

	require.NotNil(t, msg.Shadow.NetworkInfo)
	assert.Equal(t, CellQuery{MCCMNC: 24201, AreaCode: 305, CellID: 84486415},
		msg.Shadow.NetworkInfo.CellQuery())
}

func TestParseInboundShadowWithoutNetworkInfo(t *testing.T) {
	t.Parallel()

	msg, err := ParseInbound([]byte(`{"state":{"reported":{"temperature":21}}}`))
	require.NoError(t, err)
	require.Equal(t, KindShadowUpdate, msg.Kind)

	assert.Nil(t, msg.Shadow.NetworkInfo)
	assert.Empty(t, msg.Shadow.IMEI)
}

func TestParseInboundGeoOverride(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantLat float64
		wantLng float64
		wantErr bool
	}{
		{
			name:    "numbers",
			raw:     `{"geo": [63.42, 10.43]}`,
			wantLat: 63.42,
			wantLng: 10.43,
		},
		{
			name:    "numeric strings",
			raw:     `{"geo": ["63.42", "10.43"]}`,
			wantLat: 63.42,
			wantLng: 10.43,
		},
		{
			name:    "wrong arity",
			raw:     `{"geo": [63.42]}`,
			wantErr: true,
		},
		{
			name:    "non numeric",
			raw:     `{"geo": ["north", "west"]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := ParseInbound([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, KindManualGeoOverride, msg.Kind)
			assert.InDelta(t, tt.wantLat, msg.Override.Lat, 1e-9)
			assert.InDelta(t, tt.wantLng, msg.Override.Lng, 1e-9)
		})
	}
}

func TestParseInboundAppMessage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"appId": "TEMP", "data": "21.5", "messageType": "DATA"}`)

	msg, err := ParseInbound(raw)
	require.NoError(t, err)
	require.Equal(t, KindAppMessage, msg.Kind)

	assert.Equal(t, AppIDTemperature, msg.App.AppID)
	assert.Equal(t, "21.5", msg.App.Data)
	assert.Equal(t, MessageTypeData, msg.App.MessageType)
	assert.JSONEq(t, string(raw), string(msg.App.Raw))
}

func TestParseInboundRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not json", `[1,2,3]`, `{"data":"orphan"}`} {
		_, err := ParseInbound([]byte(raw))
		assert.Error(t, err, "payload %q", raw)
	}
}

func TestDeviceAppStateClone(t *testing.T) {
	t.Parallel()

	orig := DeviceAppState{"temperature": 21.5}
	clone := orig.Clone()
	clone["temperature"] = 99

	assert.InDelta(t, 21.5, orig["temperature"], 1e-9)
	assert.Nil(t, DeviceAppState(nil).Clone())
}

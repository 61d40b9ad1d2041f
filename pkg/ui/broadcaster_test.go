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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

func dialViewer(t *testing.T, b *Broadcaster, expectViewers int) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return b.ViewerCount() == expectViewers },
		time.Second, 5*time.Millisecond)

	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) models.ViewerUpdate {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var update models.ViewerUpdate
	require.NoError(t, json.Unmarshal(frame, &update))

	return update
}

func TestBroadcastGeolocation(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())
	conn := dialViewer(t, b, 1)

	fix := models.GeoFix{Lat: 63.42, Lng: 10.43, Timestamp: time.Now().UTC()}
	b.UpdateGeolocation("dev-1", fix)

	update := readUpdate(t, conn)
	assert.Equal(t, "dev-1", update.DeviceID)
	require.NotNil(t, update.Geolocation)
	assert.InDelta(t, 63.42, update.Geolocation.Lat, 1e-9)
	assert.Nil(t, update.Update)
}

func TestBroadcastReachesAllViewers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())
	first := dialViewer(t, b, 1)
	second := dialViewer(t, b, 2)

	b.UpdateIMEI("dev-1", "352656100367872")

	for _, conn := range []*websocket.Conn{first, second} {
		update := readUpdate(t, conn)
		assert.Equal(t, "352656100367872", update.IMEI)
	}
}

func TestDisconnectedViewerIsRemoved(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())
	conn := dialViewer(t, b, 1)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return b.ViewerCount() == 0 },
		time.Second, 5*time.Millisecond)

	// Broadcasting to nobody must not panic or block.
	b.UpdateIMEI("dev-1", "x")
}

func TestAppStateMergesAcrossUpdates(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())

	b.UpdateAppState("dev-1", models.DeviceAppState{"temperature": 21.5})
	b.UpdateAppState("dev-1", models.DeviceAppState{"humidity": 40})
	b.UpdateAppState("dev-1", models.DeviceAppState{"temperature": 22.0})

	snap := b.SnapshotFor("dev-1")
	assert.InDelta(t, 22.0, snap.AppState["temperature"], 1e-9)
	assert.InDelta(t, 40, snap.AppState["humidity"], 1e-9)
}

func TestSnapshotForIsIndependentCopy(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())

	fix := models.GeoFix{Lat: 1, Lng: 2, Timestamp: time.Now()}
	b.UpdateGeolocation("dev-1", fix)
	b.UpdateAppState("dev-1", models.DeviceAppState{"temperature": 21.5})
	b.UpdateNetworkInfo("dev-1", json.RawMessage(`{"mccmnc":24201}`))

	snap := b.SnapshotFor("dev-1")
	snap.AppState["temperature"] = 99
	snap.Geolocation.Lat = 99

	fresh := b.SnapshotFor("dev-1")
	assert.InDelta(t, 21.5, fresh.AppState["temperature"], 1e-9)
	assert.InDelta(t, 1, fresh.Geolocation.Lat, 1e-9)
	assert.JSONEq(t, `{"mccmnc":24201}`, string(fresh.NetworkInfo))
}

func TestSnapshotForUnknownDevice(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(logger.NewTestLogger())

	snap := b.SnapshotFor("nobody")
	assert.Equal(t, "nobody", snap.DeviceID)
	assert.Nil(t, snap.Geolocation)
	assert.Nil(t, snap.AppState)
}

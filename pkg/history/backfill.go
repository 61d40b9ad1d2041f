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

// Package history warms the viewer state at startup by replaying recent
// cloud telemetry and the persisted shadow of every device.
package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

// historyAppIDs is the set of application ids worth replaying: everything
// that feeds a viewer-visible field.
var historyAppIDs = []string{
	models.AppIDTemperature, models.AppIDAirQuality, models.AppIDHumidity,
	models.AppIDAirPressure, models.AppIDGPS, models.AppIDRSRP,
}

// Source is the slice of the cloud REST surface backfill reads from.
type Source interface {
	FetchHistory(ctx context.Context, deviceID string, start, end time.Time, appIDs []string) (map[string]string, error)
	FetchDeviceState(ctx context.Context, deviceID string) (json.RawMessage, error)
}

// Replayer pushes recovered values through the live transform path.
// *router.Router satisfies it.
type Replayer interface {
	ReplayAppMessage(deviceID, appID, data string)
	ReplayShadow(ctx context.Context, deviceID string, shadow *models.ShadowUpdate)
}

// Backfiller recovers the most recent value per application id within the
// lookback window, plus the shadow document, for every device. Failures
// degrade to an empty initial view, never to a startup failure.
type Backfiller struct {
	source   Source
	replayer Replayer
	window   time.Duration
	logger   logger.Logger
	now      func() time.Time
}

func NewBackfiller(source Source, replayer Replayer, window time.Duration, log logger.Logger) *Backfiller {
	return &Backfiller{
		source:   source,
		replayer: replayer,
		window:   window,
		logger:   log,
		now:      time.Now,
	}
}

// Run backfills every record concurrently and returns when all devices are
// done. Per-device failures are logged and do not affect the others.
func (b *Backfiller) Run(ctx context.Context, records map[string]*models.DeviceRecord) {
	var wg sync.WaitGroup

	for _, record := range records {
		wg.Add(1)

		go func(record *models.DeviceRecord) {
			defer wg.Done()
			b.backfillDevice(ctx, record)
		}(record)
	}

	wg.Wait()
}

func (b *Backfiller) backfillDevice(ctx context.Context, record *models.DeviceRecord) {
	end := b.now()
	start := end.Add(-b.window)

	latest, err := b.source.FetchHistory(ctx, record.DeviceID, start, end, historyAppIDs)
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("device_id", record.DeviceID).
			Msg("Failed to fetch message history")
	} else {
		for appID, data := range latest {
			b.replayer.ReplayAppMessage(record.DeviceID, appID, data)
		}

		b.logger.Info().
			Str("device_id", record.DeviceID).
			Int("fields", len(latest)).
			Msg("Replayed historical telemetry")
	}

	b.replayShadow(ctx, record)
}

// replayShadow fetches the persisted state document and runs it through the
// shadow enrichment path so network info and IMEI survive restarts.
func (b *Backfiller) replayShadow(ctx context.Context, record *models.DeviceRecord) {
	state, err := b.source.FetchDeviceState(ctx, record.DeviceID)
	if err != nil {
		b.logger.Warn().
			Err(err).
			Str("device_id", record.DeviceID).
			Msg("Failed to fetch device shadow")

		return
	}

	if len(state) == 0 {
		return
	}

	envelope, err := json.Marshal(map[string]json.RawMessage{"state": state})
	if err != nil {
		return
	}

	msg, err := models.ParseInbound(envelope)
	if err != nil || msg.Kind != models.KindShadowUpdate {
		b.logger.Warn().
			Err(err).
			Str("device_id", record.DeviceID).
			Msg("Persisted shadow document is malformed")

		return
	}

	b.replayer.ReplayShadow(ctx, record.DeviceID, msg.Shadow)
}

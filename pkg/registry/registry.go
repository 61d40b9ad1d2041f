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

// Package registry owns device configuration, certificate provisioning,
// just-in-time registration and the per-device cloud link handles.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/carverauto/fieldgate/pkg/cloud"
	"github.com/carverauto/fieldgate/pkg/cloudlink"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

var ErrUnknownDevice = errors.New("unknown device")

// uiServices is the service list every device reports to the cloud shadow
// on connect so the platform UI renders all widgets.
var uiServices = []string{
	models.AppIDGPS, models.AppIDFlip, models.AppIDGeneric,
	models.AppIDTemperature, models.AppIDHumidity, models.AppIDAirPressure,
	models.AppIDRSRP, models.AppIDButton, models.AppIDDevice,
}

// CloudAPI is the slice of the cloud REST surface the registry needs.
type CloudAPI interface {
	IssueCertificates(ctx context.Context, deviceID, ownershipCode string) (*cloud.Certificates, error)
	AssociateDevice(ctx context.Context, deviceID, ownershipCode string) error
}

// Registry holds all device records and at most one Connection per shortId.
type Registry struct {
	store       *Store
	cloud       CloudAPI
	factory     cloudlink.Factory
	prefix      string
	targetCount int
	logger      logger.Logger

	mu      sync.Mutex
	records map[string]*models.DeviceRecord
	conns   map[string]*Connection

	// resolve deduplicates concurrent connect/registration attempts per
	// shortId: all callers for the same unknown device await one outcome.
	resolve singleflight.Group
}

func New(store *Store, cloudAPI CloudAPI, factory cloudlink.Factory, messagesPrefix string, targetCount int, log logger.Logger) *Registry {
	return &Registry{
		store:       store,
		cloud:       cloudAPI,
		factory:     factory,
		prefix:      messagesPrefix,
		targetCount: targetCount,
		logger:      log,
		records:     make(map[string]*models.DeviceRecord),
		conns:       make(map[string]*Connection),
	}
}

// Load reads persisted records and provisions new devices until the target
// count is reached. Provisioning failures here are fatal: the gateway must
// not start with a partial fleet it was asked to guarantee.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.Load()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.records = records
	r.mu.Unlock()

	for len(records) < r.targetCount {
		shortID := r.nextFreeShortID()

		record, err := r.provision(ctx, shortID)
		if err != nil {
			return fmt.Errorf("failed to provision device %s: %w", shortID, err)
		}

		records = r.snapshotRecords()

		r.logger.Info().
			Str("short_id", record.ShortID).
			Str("device_id", record.DeviceID).
			Msg("New device created")
	}

	return nil
}

// nextFreeShortID returns the lowest unused numeric shortId. Short ids are
// assigned sequentially at provisioning time and stable thereafter.
func (r *Registry) nextFreeShortID() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; ; i++ {
		candidate := strconv.Itoa(i)
		if _, taken := r.records[candidate]; !taken {
			return candidate
		}
	}
}

func (r *Registry) snapshotRecords() map[string]*models.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*models.DeviceRecord, len(r.records))
	for k, v := range r.records {
		out[k] = v
	}

	return out
}

// Records returns a copy of the current record set keyed by shortId.
func (r *Registry) Records() map[string]*models.DeviceRecord {
	return r.snapshotRecords()
}

// Connections returns the currently connected device handles.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}

	return out
}

// provision mints a fresh cloud identity for shortID, obtains certificate
// material and persists the completed record. Nothing is persisted if the
// issuance call fails.
func (r *Registry) provision(ctx context.Context, shortID string) (*models.DeviceRecord, error) {
	deviceID := uuid.New().String()
	ownershipCode := uuid.New().String()

	certs, err := r.cloud.IssueCertificates(ctx, deviceID, ownershipCode)
	if err != nil {
		return nil, err
	}

	record := &models.DeviceRecord{
		ShortID:       shortID,
		DeviceID:      deviceID,
		OwnershipCode: ownershipCode,
		CACert:        certs.CACert,
		PrivateKey:    certs.PrivateKey,
		ClientCert:    certs.ClientCert,
	}

	r.mu.Lock()
	r.records[shortID] = record
	snapshot := make(map[string]*models.DeviceRecord, len(r.records))

	for k, v := range r.records {
		snapshot[k] = v
	}
	r.mu.Unlock()

	if err := r.store.Save(snapshot); err != nil {
		// Roll the in-memory record back so a retry re-provisions cleanly.
		r.mu.Lock()
		delete(r.records, shortID)
		r.mu.Unlock()

		return nil, err
	}

	return record, nil
}

// Connect is idempotent: an existing connection for shortID is returned,
// otherwise one is created from the persisted record.
func (r *Registry) Connect(ctx context.Context, shortID string) (*Connection, error) {
	r.mu.Lock()
	if conn, ok := r.conns[shortID]; ok {
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	result, err, _ := r.resolve.Do("connect:"+shortID, func() (interface{}, error) {
		return r.connectLocked(ctx, shortID)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Connection), nil
}

// Resolve returns the connection for shortID, JIT-registering a brand new
// device identity when no record exists. At most one registration/connect
// attempt is in flight per shortId; concurrent callers share the outcome.
func (r *Registry) Resolve(ctx context.Context, shortID string) (*Connection, error) {
	r.mu.Lock()
	if conn, ok := r.conns[shortID]; ok {
		r.mu.Unlock()
		return conn, nil
	}
	r.mu.Unlock()

	result, err, _ := r.resolve.Do("connect:"+shortID, func() (interface{}, error) {
		r.mu.Lock()
		_, known := r.records[shortID]
		r.mu.Unlock()

		if !known {
			record, provErr := r.provision(ctx, shortID)
			if provErr != nil {
				return nil, provErr
			}

			r.logger.Info().
				Str("short_id", shortID).
				Str("device_id", record.DeviceID).
				Msg("Device registered just-in-time")
		}

		return r.connectLocked(ctx, shortID)
	})
	if err != nil {
		return nil, err
	}

	return result.(*Connection), nil
}

// connectLocked performs the actual link setup; callers serialize per
// shortId through the singleflight group.
func (r *Registry) connectLocked(ctx context.Context, shortID string) (*Connection, error) {
	r.mu.Lock()
	if conn, ok := r.conns[shortID]; ok {
		r.mu.Unlock()
		return conn, nil
	}

	record, ok := r.records[shortID]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, shortID)
	}

	link, err := r.factory.NewLink(record, func(event cloudlink.Event, eventErr error) {
		r.logger.Info().
			Str("short_id", shortID).
			Str("device_id", record.DeviceID).
			Str("event", event.String()).
			Err(eventErr).
			Msg("Device cloud link event")
	})
	if err != nil {
		return nil, err
	}

	if err := link.Connect(ctx); err != nil {
		return nil, err
	}

	conn := &Connection{record: record, link: link, prefix: r.prefix}

	r.onConnected(ctx, conn)

	r.mu.Lock()
	r.conns[shortID] = conn
	r.mu.Unlock()

	return conn, nil
}

// onConnected runs the association protocol once per device lifetime and
// reports the UI service list on every connect. Both are best-effort except
// association itself, which must persist its flag flip.
func (r *Registry) onConnected(ctx context.Context, conn *Connection) {
	record := conn.record

	if !record.Associated {
		if err := r.cloud.AssociateDevice(ctx, record.DeviceID, record.OwnershipCode); err != nil {
			r.logger.Error().
				Err(err).
				Str("device_id", record.DeviceID).
				Msg("Failed to associate device")
		} else {
			r.markAssociated(record)

			greeting := fmt.Sprintf("Hello from the gateway! I am device %s.", record.ShortID)
			if err := conn.SendMessage(ctx, models.AppIDDevice, greeting); err != nil {
				r.logger.Warn().
					Err(err).
					Str("device_id", record.DeviceID).
					Msg("Failed to publish greeting")
			}
		}
	}

	if err := conn.UpdateShadow(ctx, serviceInfoPatch()); err != nil {
		r.logger.Warn().
			Err(err).
			Str("device_id", record.DeviceID).
			Msg("Failed to enable UI services")
	} else {
		r.logger.Info().
			Str("device_id", record.DeviceID).
			Msg("All UI services enabled")
	}
}

func (r *Registry) markAssociated(record *models.DeviceRecord) {
	r.mu.Lock()
	record.Associated = true
	snapshot := make(map[string]*models.DeviceRecord, len(r.records))

	for k, v := range r.records {
		snapshot[k] = v
	}
	r.mu.Unlock()

	if err := r.store.Save(snapshot); err != nil {
		r.logger.Error().
			Err(err).
			Str("device_id", record.DeviceID).
			Msg("Failed to persist association flag")

		return
	}

	r.logger.Info().
		Str("device_id", record.DeviceID).
		Msg("Device associated to tenant")
}

func serviceInfoPatch() []byte {
	patch := map[string]interface{}{
		"state": map[string]interface{}{
			"reported": map[string]interface{}{
				"device": map[string]interface{}{
					"serviceInfo": map[string]interface{}{
						"ui": uiServices,
					},
				},
			},
		},
	}

	data, _ := json.Marshal(patch)

	return data
}

// ConnectAll connects every known record. Individual failures are logged
// and retried lazily on the next inbound message for that device.
func (r *Registry) ConnectAll(ctx context.Context) {
	for shortID := range r.snapshotRecords() {
		if _, err := r.Connect(ctx, shortID); err != nil {
			r.logger.Error().
				Err(err).
				Str("short_id", shortID).
				Msg("Failed to connect device at startup")
		}
	}
}

// Close tears down every device connection.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))

	for _, c := range r.conns {
		conns = append(conns, c)
	}

	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.link.Close(); err != nil {
			r.logger.Warn().
				Err(err).
				Str("device_id", c.DeviceID()).
				Msg("Error closing cloud link")
		}
	}
}

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

// Package cloudlink defines the per-device publish/subscribe session with
// the cloud platform and provides a NATS-backed implementation.
package cloudlink

import (
	"context"

	"github.com/carverauto/fieldgate/pkg/models"
)

// Event is a lifecycle event of a cloud link session.
type Event int

const (
	EventConnected Event = iota
	EventDisconnected
	EventReconnecting
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// EventHandler receives lifecycle events. err is non-nil for EventError and
// may carry the disconnect cause for EventDisconnected.
type EventHandler func(event Event, err error)

// Link is one device's session with the cloud platform. Implementations
// must be safe for concurrent use; per-device message ordering is the
// router's responsibility.
type Link interface {
	// Connect establishes the session and fires EventConnected on success.
	Connect(ctx context.Context) error
	// Publish sends an application payload on the given channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a handler for inbound payloads on a channel.
	Subscribe(channel string, handler func(payload []byte)) error
	// UpdateShadow applies a state patch to the device's cloud shadow.
	UpdateShadow(ctx context.Context, patch []byte) error
	// Close tears the session down.
	Close() error
}

// Factory creates a Link for a device record. The gateway holds exactly one
// link per device.
type Factory interface {
	NewLink(record *models.DeviceRecord, onEvent EventHandler) (Link, error)
}

// MessagesChannel is the device-to-cloud application message channel for a
// device, built from the account's topic prefix.
func MessagesChannel(prefix, deviceID string) string {
	return prefix + "d." + deviceID + ".d2c"
}

// ShadowChannel is the shadow update channel for a device.
func ShadowChannel(prefix, deviceID string) string {
	return prefix + "things." + deviceID + ".shadow.update"
}

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

package registry

import (
	"context"
	"encoding/json"

	"github.com/carverauto/fieldgate/pkg/cloudlink"
	"github.com/carverauto/fieldgate/pkg/models"
)

// Connection is the runtime handle bound 1:1 to a device record. It owns
// the device's cloud link session; the registry guarantees at most one
// Connection per shortId.
type Connection struct {
	record *models.DeviceRecord
	link   cloudlink.Link
	prefix string
}

func (c *Connection) ShortID() string  { return c.record.ShortID }
func (c *Connection) DeviceID() string { return c.record.DeviceID }

// Publish sends a raw application payload on the device's own channel.
func (c *Connection) Publish(ctx context.Context, payload []byte) error {
	channel := cloudlink.MessagesChannel(c.prefix, c.record.DeviceID)
	return c.link.Publish(ctx, channel, payload)
}

// UpdateShadow applies a verbatim state patch to the device's cloud shadow.
func (c *Connection) UpdateShadow(ctx context.Context, patch []byte) error {
	return c.link.UpdateShadow(ctx, patch)
}

// SendMessage builds and publishes a structured application message.
func (c *Connection) SendMessage(ctx context.Context, appID, data string) error {
	payload, err := json.Marshal(models.AppMessage{
		AppID:       appID,
		MessageType: models.MessageTypeData,
		Data:        data,
	})
	if err != nil {
		return err
	}

	return c.Publish(ctx, payload)
}

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

// Package cloud implements the REST client for the cloud IoT platform:
// certificate issuance, device association, account description, device
// listing, shadow fetch and paginated message history.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

const historyPageLimit = 10

// Certificates is the material issued for a freshly provisioned device.
type Certificates struct {
	CACert     string `json:"caCert"`
	PrivateKey string `json:"privateKey"`
	ClientCert string `json:"clientCert"`
}

// AccountInfo describes the tenant's pub/sub endpoint and topic prefix.
type AccountInfo struct {
	Endpoint       string
	MessagesPrefix string
}

// DeviceInfo is an id+name pair from the device listing.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoricalMessage is one archived application message.
type HistoricalMessage struct {
	AppID string `json:"appId"`
	Data  string `json:"data"`
}

// Client talks to the cloud REST API. All methods are safe for concurrent
// use.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewClient(endpoint, apiKey string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

func (c *Client) do(ctx context.Context, method, path, body string) ([]byte, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s %s returned %d", ErrUnexpectedStatus, method, path, res.StatusCode)
	}

	return data, nil
}

// IssueCertificates provisions certificate material for deviceID. The
// ownership code is the request body, per the platform contract.
func (c *Client) IssueCertificates(ctx context.Context, deviceID, ownershipCode string) (*Certificates, error) {
	data, err := c.do(ctx, http.MethodPost, "/v1/devices/"+deviceID+"/certificates", ownershipCode)
	if err != nil {
		return nil, fmt.Errorf("failed to issue certificates for %s: %w", deviceID, err)
	}

	var certs Certificates
	if err := json.Unmarshal(data, &certs); err != nil {
		return nil, fmt.Errorf("invalid certificate response for %s: %w", deviceID, err)
	}

	return &certs, nil
}

// AssociateDevice links the device to the tenant using its ownership code.
func (c *Client) AssociateDevice(ctx context.Context, deviceID, ownershipCode string) error {
	if _, err := c.do(ctx, http.MethodPut, "/v1/association/"+deviceID, ownershipCode); err != nil {
		return fmt.Errorf("failed to associate device %s: %w", deviceID, err)
	}

	return nil
}

// DescribeAccount fetches the tenant's pub/sub endpoint and topic prefix.
func (c *Client) DescribeAccount(ctx context.Context) (*AccountInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/account", "")
	if err != nil {
		return nil, fmt.Errorf("failed to describe account: %w", err)
	}

	var body struct {
		Endpoint string `json:"endpoint"`
		Topics   struct {
			MessagesPrefix string `json:"messagesPrefix"`
		} `json:"topics"`
	}

	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid account response: %w", err)
	}

	return &AccountInfo{
		Endpoint:       body.Endpoint,
		MessagesPrefix: body.Topics.MessagesPrefix,
	}, nil
}

// ListDevices fetches the id+name pairs of all devices in the tenant.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/devices", "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch devices: %w", err)
	}

	var body struct {
		Items []DeviceInfo `json:"items"`
	}

	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid device listing: %w", err)
	}

	return body.Items, nil
}

// FetchDeviceState returns the device's last reported shadow document, or
// nil if the platform has none.
func (c *Client) FetchDeviceState(ctx context.Context, deviceID string) (json.RawMessage, error) {
	data, err := c.do(ctx, http.MethodGet, "/v1/devices/"+deviceID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device %s: %w", deviceID, err)
	}

	var body struct {
		State json.RawMessage `json:"state"`
	}

	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("invalid device response for %s: %w", deviceID, err)
	}

	return body.State, nil
}

// FetchHistory pages through the device's archived messages between start
// and end (newest first) and returns the first value seen per distinct
// appId among appIDs.
func (c *Client) FetchHistory(ctx context.Context, deviceID string, start, end time.Time, appIDs []string) (map[string]string, error) {
	recognized := make(map[string]struct{}, len(appIDs))
	for _, id := range appIDs {
		recognized[id] = struct{}{}
	}

	apps := make(map[string]string)
	pageToken := ""

	for {
		query := url.Values{}
		query.Set("inclusiveStart", start.UTC().Format(time.RFC3339))
		query.Set("exclusiveEnd", end.UTC().Format(time.RFC3339))
		query.Set("deviceIdentifiers", deviceID)
		query.Set("pageLimit", fmt.Sprintf("%d", historyPageLimit))
		query.Set("pageSort", "desc")

		if pageToken != "" {
			query.Set("pageNextToken", pageToken)
		}

		data, err := c.do(ctx, http.MethodGet, "/v1/messages?"+query.Encode(), "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history for %s: %w", deviceID, err)
		}

		var body struct {
			Items []struct {
				Message HistoricalMessage `json:"message"`
			} `json:"items"`
			NextStartKey string `json:"nextStartKey"`
		}

		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("invalid history response for %s: %w", deviceID, err)
		}

		if len(body.Items) == 0 {
			return apps, nil
		}

		for _, item := range body.Items {
			if _, ok := recognized[item.Message.AppID]; !ok {
				continue
			}

			// Pages are sorted newest first, so the first value per
			// appId is the most recent one.
			if _, seen := apps[item.Message.AppID]; !seen {
				apps[item.Message.AppID] = item.Message.Data
			}
		}

		if body.NextStartKey == "" {
			return apps, nil
		}

		pageToken = body.NextStartKey
	}
}

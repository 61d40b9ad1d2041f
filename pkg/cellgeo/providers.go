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

package cellgeo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carverauto/fieldgate/pkg/models"
)

var (
	ErrCellNotFound    = errors.New("cell geolocation not found")
	ErrProviderFailure = errors.New("cell geolocation provider failure")
)

// Provider resolves a single cell tower query against one upstream service.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, cell models.CellQuery) (*models.CellGeolocation, error)
}

// RegionalProvider queries a private/regional cell geolocation service with
// a simple GET interface.
type RegionalProvider struct {
	endpoint string
	client   *http.Client
}

func NewRegionalProvider(endpoint string, client *http.Client) *RegionalProvider {
	if client == nil {
		client = http.DefaultClient
	}

	return &RegionalProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
	}
}

func (*RegionalProvider) Name() string { return "regional" }

func (p *RegionalProvider) Resolve(ctx context.Context, cell models.CellQuery) (*models.CellGeolocation, error) {
	url := fmt.Sprintf("%s/geolocate?cell=%d&area=%d&mccmnc=%d",
		p.endpoint, cell.CellID, cell.AreaCode, cell.MCCMNC)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w (%d)", ErrCellNotFound, res.StatusCode)
	}

	var body struct {
		Lat      float64 `json:"lat"`
		Lng      float64 `json:"lng"`
		Accuracy float64 `json:"accuracy"`
	}

	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	return &models.CellGeolocation{
		Lat:        body.Lat,
		Lng:        body.Lng,
		Accuracy:   body.Accuracy,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// CommercialProvider queries a commercial LTE cell geolocation API
// (unwiredlabs-style request/response shapes).
type CommercialProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewCommercialProvider(endpoint, apiKey string, client *http.Client) *CommercialProvider {
	if client == nil {
		client = http.DefaultClient
	}

	return &CommercialProvider{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   client,
	}
}

func (*CommercialProvider) Name() string { return "commercial" }

type commercialRequest struct {
	Token string           `json:"token"`
	Radio string           `json:"radio"`
	MCC   int              `json:"mcc"`
	MNC   int              `json:"mnc"`
	Cells []commercialCell `json:"cells"`
}

type commercialCell struct {
	LAC int `json:"lac"`
	CID int `json:"cid"`
}

type commercialResponse struct {
	Status   string  `json:"status"` // "ok" or "error"
	Message  string  `json:"message"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Accuracy float64 `json:"accuracy"`
}

func (p *CommercialProvider) Resolve(ctx context.Context, cell models.CellQuery) (*models.CellGeolocation, error) {
	payload, err := json.Marshal(commercialRequest{
		Token: p.apiKey,
		Radio: "lte",
		MCC:   cell.MCCMNC / 100,
		MNC:   cell.MCCMNC % 100,
		Cells: []commercialCell{{LAC: cell.AreaCode, CID: cell.CellID}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/v2/process.php", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	defer res.Body.Close()

	var body commercialResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}

	if body.Status != "ok" {
		return nil, fmt.Errorf("%w: %s", ErrCellNotFound, body.Message)
	}

	return &models.CellGeolocation{
		Lat:        body.Lat,
		Lng:        body.Lon,
		Accuracy:   body.Accuracy,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

var testCell = models.CellQuery{MCCMNC: 24201, AreaCode: 305, CellID: 84486415}

func regionalServer(t *testing.T, hits *atomic.Int64, status int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		assert.Equal(t, "/geolocate", r.URL.Path)
		assert.Equal(t, "84486415", r.URL.Query().Get("cell"))
		assert.Equal(t, "305", r.URL.Query().Get("area"))
		assert.Equal(t, "24201", r.URL.Query().Get("mccmnc"))

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]float64{
			"lat": 63.42, "lng": 10.43, "accuracy": 500,
		})
	}))

	t.Cleanup(srv.Close)

	return srv
}

func commercialServer(t *testing.T, hits *atomic.Int64, ok bool) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		assert.Equal(t, "/v2/process.php", r.URL.Path)

		var req struct {
			Token string `json:"token"`
			Radio string `json:"radio"`
			MCC   int    `json:"mcc"`
			MNC   int    `json:"mnc"`
			Cells []struct {
				LAC int `json:"lac"`
				CID int `json:"cid"`
			} `json:"cells"`
		}

		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-token", req.Token)
		assert.Equal(t, "lte", req.Radio)
		assert.Equal(t, 242, req.MCC)
		assert.Equal(t, 1, req.MNC)
		require.Len(t, req.Cells, 1)
		assert.Equal(t, 305, req.Cells[0].LAC)
		assert.Equal(t, 84486415, req.Cells[0].CID)

		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status": "error", "message": "no matches",
			})

			return
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok", "lat": 63.5, "lon": 10.5, "accuracy": 1500,
		})
	}))

	t.Cleanup(srv.Close)

	return srv
}

func TestResolveCachesSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := regionalServer(t, &hits, http.StatusOK)
	resolver := NewResolver(logger.NewTestLogger(), NewRegionalProvider(srv.URL, srv.Client()))

	first, err := resolver.Resolve(context.Background(), testCell)
	require.NoError(t, err)
	assert.InDelta(t, 63.42, first.Lat, 1e-9)
	assert.InDelta(t, 10.43, first.Lng, 1e-9)

	second, err := resolver.Resolve(context.Background(), testCell)
	require.NoError(t, err)
	assert.Same(t, first, second)

	assert.Equal(t, int64(1), hits.Load(), "cached hit must not re-query the provider")
}

func TestResolveFallsBackToCommercial(t *testing.T) {
	t.Parallel()

	var regionalHits, commercialHits atomic.Int64

	regional := regionalServer(t, &regionalHits, http.StatusNotFound)
	commercial := commercialServer(t, &commercialHits, true)

	resolver := NewResolver(logger.NewTestLogger(),
		NewRegionalProvider(regional.URL, regional.Client()),
		NewCommercialProvider(commercial.URL, "test-token", commercial.Client()),
	)

	location, err := resolver.Resolve(context.Background(), testCell)
	require.NoError(t, err)
	assert.InDelta(t, 63.5, location.Lat, 1e-9)
	assert.InDelta(t, 10.5, location.Lng, 1e-9)
	assert.InDelta(t, 1500, location.Accuracy, 1e-9)

	assert.Equal(t, int64(1), regionalHits.Load())
	assert.Equal(t, int64(1), commercialHits.Load())
}

func TestResolveFailureIsNotCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := regionalServer(t, &hits, http.StatusNotFound)
	resolver := NewResolver(logger.NewTestLogger(), NewRegionalProvider(srv.URL, srv.Client()))

	_, err := resolver.Resolve(context.Background(), testCell)
	require.ErrorIs(t, err, ErrCellNotFound)

	_, err = resolver.Resolve(context.Background(), testCell)
	require.Error(t, err)

	assert.Equal(t, int64(2), hits.Load(), "failures must retry the chain")
}

func TestResolveCommercialMiss(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := commercialServer(t, &hits, false)
	resolver := NewResolver(logger.NewTestLogger(),
		NewCommercialProvider(srv.URL, "test-token", srv.Client()))

	_, err := resolver.Resolve(context.Background(), testCell)
	require.ErrorIs(t, err, ErrCellNotFound)
}

func TestResolveNoProviders(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(logger.NewTestLogger())

	_, err := resolver.Resolve(context.Background(), testCell)
	require.ErrorIs(t, err, ErrNoProviders)
}

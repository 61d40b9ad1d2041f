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

// Package cellgeo resolves cell tower identifiers to approximate positions
// using an ordered chain of providers with a memoizing cache.
package cellgeo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

var ErrNoProviders = errors.New("no cell geolocation providers configured")

// Resolver tries each provider in order until one succeeds. Successful
// resolutions are cached per CellQuery for the process lifetime. There is
// deliberately no TTL, a cell tower's corrected position only becomes
// visible on restart. Failures are not cached; the next identical query
// retries the chain. Concurrent misses for the same key may each walk the
// chain; only the JIT registration path requires rendezvous semantics and
// that lives in the registry.
type Resolver struct {
	providers []Provider

	mu    sync.RWMutex
	cache map[models.CellQuery]*models.CellGeolocation

	logger logger.Logger
}

func NewResolver(log logger.Logger, providers ...Provider) *Resolver {
	return &Resolver{
		providers: providers,
		cache:     make(map[models.CellQuery]*models.CellGeolocation),
		logger:    log,
	}
}

// Resolve returns the cached location for cell or walks the provider chain.
// The first provider to succeed wins and its result is cached.
func (r *Resolver) Resolve(ctx context.Context, cell models.CellQuery) (*models.CellGeolocation, error) {
	r.mu.RLock()
	cached, ok := r.cache[cell]
	r.mu.RUnlock()

	if ok {
		return cached, nil
	}

	if len(r.providers) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error

	for _, provider := range r.providers {
		location, err := provider.Resolve(ctx, cell)
		if err != nil {
			r.logger.Debug().
				Err(err).
				Str("provider", provider.Name()).
				Int("mccmnc", cell.MCCMNC).
				Int("area", cell.AreaCode).
				Int("cell", cell.CellID).
				Msg("Cell geolocation provider failed, trying next")

			lastErr = err

			continue
		}

		r.mu.Lock()
		// First resolution wins; a concurrent walk that lost the race
		// keeps the already cached value.
		if existing, found := r.cache[cell]; found {
			location = existing
		} else {
			r.cache[cell] = location
		}
		r.mu.Unlock()

		r.logger.Info().
			Str("provider", provider.Name()).
			Int("mccmnc", cell.MCCMNC).
			Int("area", cell.AreaCode).
			Int("cell", cell.CellID).
			Float64("lat", location.Lat).
			Float64("lng", location.Lng).
			Msg("Cell geolocation resolved")

		return location, nil
	}

	return nil, fmt.Errorf("all providers failed for cell %d/%d/%d: %w",
		cell.MCCMNC, cell.AreaCode, cell.CellID, lastErr)
}

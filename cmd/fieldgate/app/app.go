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

// Package app wires the gateway's components together and runs them until
// shutdown.
package app

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/fieldgate/pkg/cellgeo"
	"github.com/carverauto/fieldgate/pkg/cloud"
	"github.com/carverauto/fieldgate/pkg/cloudlink"
	"github.com/carverauto/fieldgate/pkg/config"
	"github.com/carverauto/fieldgate/pkg/history"
	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/registry"
	"github.com/carverauto/fieldgate/pkg/router"
	"github.com/carverauto/fieldgate/pkg/udp"
	"github.com/carverauto/fieldgate/pkg/ui"
)

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// deviceResolver adapts the registry to the router's resolver interface.
type deviceResolver struct {
	registry *registry.Registry
}

func (d deviceResolver) Resolve(ctx context.Context, shortID string) (router.Device, error) {
	conn, err := d.registry.Resolve(ctx, shortID)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

// Run boots the gateway using the provided options. Bootstrap failures
// (config, cloud account lookup, provisioning, socket binds) are fatal;
// everything after startup degrades per component instead.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if cfg.Logging == nil {
		cfg.Logging = logger.DefaultConfig()
	}

	mainLogger, err := logger.NewComponentLogger(ctx, "fieldgate", cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := logger.Shutdown(); shutdownErr != nil {
			mainLogger.Error().Err(shutdownErr).Msg("Error shutting down logger")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	cloudClient := cloud.NewClient(cfg.Cloud.Endpoint, cfg.Cloud.APIKey, httpClient)

	// The account lookup yields the broker endpoint and topic prefix every
	// device connection depends on, so there is nothing useful to do
	// without it.
	account, err := cloudClient.DescribeAccount(ctx)
	if err != nil {
		return err
	}

	mainLogger.Info().
		Str("endpoint", account.Endpoint).
		Str("prefix", account.MessagesPrefix).
		Msg("Cloud account resolved")

	factory, err := cloudlink.NewNATSFactory(account.Endpoint, account.MessagesPrefix, mainLogger)
	if err != nil {
		return err
	}

	store := registry.NewStore(cfg.DataDir)
	reg := registry.New(store, cloudClient, factory, account.MessagesPrefix, cfg.DeviceCount, mainLogger)

	if err := reg.Load(ctx); err != nil {
		return err
	}

	defer reg.Close()

	geo := cellgeo.NewResolver(mainLogger,
		cellgeo.NewRegionalProvider(cfg.CellGeo.RegionalEndpoint, httpClient),
		cellgeo.NewCommercialProvider(cfg.CellGeo.CommercialEndpoint, cfg.CellGeo.CommercialAPIKey, httpClient),
	)

	broadcaster := ui.NewBroadcaster(mainLogger)
	msgRouter := router.New(deviceResolver{registry: reg}, geo, broadcaster, mainLogger)

	uiServer := ui.NewServer(cfg.HTTPPort, broadcaster, reg, cloudClient, mainLogger)
	udpServer := udp.NewServer(cfg.UDPPort, msgRouter.HandleMessage, mainLogger)

	backfiller := history.NewBackfiller(cloudClient, msgRouter,
		time.Duration(cfg.HistoryHours)*time.Hour, mainLogger)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return udpServer.Listen(ctx) })
	group.Go(func() error { return uiServer.Start(ctx) })

	group.Go(func() error {
		reg.ConnectAll(ctx)
		backfiller.Run(ctx, reg.Records())

		return nil
	})

	mainLogger.Info().
		Int("udp_port", cfg.UDPPort).
		Int("http_port", cfg.HTTPPort).
		Int("devices", len(reg.Records())).
		Msg("Gateway started")

	err = group.Wait()

	msgRouter.Wait()

	return err
}

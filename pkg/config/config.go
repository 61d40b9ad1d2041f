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

// Package config loads the gateway configuration from a JSON file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/carverauto/fieldgate/pkg/logger"
)

var (
	ErrCloudEndpointRequired = errors.New("cloud API endpoint is required")
	ErrCloudAPIKeyRequired   = errors.New("cloud API key is required")
	ErrInvalidDeviceCount    = errors.New("device count must not be negative")
)

const (
	defaultUDPPort      = 8888
	defaultHTTPPort     = 8080
	defaultDeviceCount  = 3
	defaultHistoryHours = 24
)

// CloudConfig describes the cloud REST API the gateway talks to.
type CloudConfig struct {
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
}

// CellGeoConfig describes the ordered cell geolocation providers. The
// regional service is queried first, the commercial one is the fallback.
type CellGeoConfig struct {
	RegionalEndpoint   string `json:"regional_endpoint"`
	CommercialEndpoint string `json:"commercial_endpoint"`
	CommercialAPIKey   string `json:"commercial_api_key"`
}

// Config is the gateway runtime configuration.
type Config struct {
	UDPPort      int            `json:"udp_port"`
	HTTPPort     int            `json:"http_port"`
	DataDir      string         `json:"data_dir"`
	DeviceCount  int            `json:"device_count"`
	HistoryHours int            `json:"history_hours"`
	Cloud        CloudConfig    `json:"cloud"`
	CellGeo      CellGeoConfig  `json:"cell_geo"`
	Logging      *logger.Config `json:"logging,omitempty"`
}

// Validate checks the invariants bootstrap depends on. Failures here are
// fatal per the gateway's error policy.
func (c *Config) Validate() error {
	if c.Cloud.Endpoint == "" {
		return ErrCloudEndpointRequired
	}

	if c.Cloud.APIKey == "" {
		return ErrCloudAPIKeyRequired
	}

	if c.DeviceCount < 0 {
		return ErrInvalidDeviceCount
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.UDPPort == 0 {
		c.UDPPort = defaultUDPPort
	}

	if c.HTTPPort == 0 {
		c.HTTPPort = defaultHTTPPort
	}

	if c.DeviceCount == 0 {
		c.DeviceCount = defaultDeviceCount
	}

	if c.HistoryHours == 0 {
		c.HistoryHours = defaultHistoryHours
	}

	if c.DataDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.DataDir = wd
		} else {
			c.DataDir = "."
		}
	}

	if c.Logging == nil {
		c.Logging = logger.DefaultConfig()
	}
}

// applyEnvOverrides lets deployments override file settings without editing
// the config document. FIELDGATE_API_KEY in particular keeps the secret out
// of the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FIELDGATE_API_KEY"); v != "" {
		c.Cloud.APIKey = v
	}

	if v := os.Getenv("FIELDGATE_CLOUD_ENDPOINT"); v != "" {
		c.Cloud.Endpoint = v
	}

	if v := os.Getenv("FIELDGATE_DATA_DIR"); v != "" {
		c.DataDir = v
	}

	if v := os.Getenv("FIELDGATE_UDP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.UDPPort = port
		}
	}

	if v := os.Getenv("FIELDGATE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}

	if v := os.Getenv("FIELDGATE_DEVICE_COUNT"); v != "" {
		if count, err := strconv.Atoi(v); err == nil {
			c.DeviceCount = count
		}
	}
}

// Load reads, defaults, overrides and validates the gateway configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	loader := &FileConfigLoader{}
	if err := loader.Load(path, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}

	return &cfg, nil
}

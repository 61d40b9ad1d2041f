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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Application IDs used by the field devices.
const (
	AppIDGPS         = "GPS"
	AppIDTemperature = "TEMP"
	AppIDHumidity    = "HUMID"
	AppIDAirPressure = "AIR_PRESS"
	AppIDAirQuality  = "AIR_QUAL"
	AppIDRSRP        = "RSRP"
	AppIDDevice      = "DEVICE"
	AppIDFlip        = "FLIP"
	AppIDButton      = "BUTTON"
	AppIDGeneric     = "GEN"
)

// MessageTypeData marks a plain data application message on the wire.
const MessageTypeData = "DATA"

var (
	ErrEmptyMessage      = errors.New("empty message")
	ErrBadGeoOverride    = errors.New("geo override must carry [lat, lng]")
	ErrMissingAppID      = errors.New("application message has no appId")
	errUnparsableGeoElem = errors.New("geo override element is neither number nor numeric string")
)

// InboundKind discriminates the inbound message union.
type InboundKind int

const (
	KindShadowUpdate InboundKind = iota
	KindManualGeoOverride
	KindAppMessage
)

// ShadowUpdate is a device state document destined for the cloud shadow.
// Raw carries the message verbatim; the parsed fields are what the gateway
// itself consumes for enrichment.
type ShadowUpdate struct {
	Raw         json.RawMessage
	NetworkInfo *NetworkInfo
	IMEI        string
}

// NetworkInfo is the reported cellular network block of a shadow update.
// Raw keeps the block as received so it can be passed on untouched.
type NetworkInfo struct {
	MCCMNC   int `json:"mccmnc"`
	AreaCode int `json:"areaCode"`
	CellID   int `json:"cellID"`

	Raw json.RawMessage `json:"-"`
}

// CellQuery derives the geolocation lookup key from the reported block.
func (n *NetworkInfo) CellQuery() CellQuery {
	return CellQuery{MCCMNC: n.MCCMNC, AreaCode: n.AreaCode, CellID: n.CellID}
}

// ManualGeoOverride is a synthetic position injected by an operator.
type ManualGeoOverride struct {
	Lat float64
	Lng float64
}

// AppMessage is a regular application telemetry message.
type AppMessage struct {
	AppID       string `json:"appId"`
	Data        string `json:"data"`
	MessageType string `json:"messageType,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// InboundMessage is the tagged union of everything a device can send over
// the UDP wire. Exactly one variant is non-nil.
type InboundMessage struct {
	Kind     InboundKind
	Shadow   *ShadowUpdate
	Override *ManualGeoOverride
	App      *AppMessage
}

// shadowEnvelope mirrors just the parts of a shadow document the gateway
// reads; everything else passes through verbatim.
type shadowEnvelope struct {
	State *struct {
		Reported *struct {
			Device *struct {
				NetworkInfo *json.RawMessage `json:"networkInfo"`
				DeviceInfo  *struct {
					IMEI string `json:"imei"`
				} `json:"deviceInfo"`
			} `json:"device"`
		} `json:"reported"`
	} `json:"state"`
}

type overrideEnvelope struct {
	Geo []json.RawMessage `json:"geo"`
}

// ParseInbound classifies a raw JSON payload into the inbound message union.
// Presence of a "state" key selects the shadow path, a "geo" key the manual
// override, anything else must be an application message with an appId.
func ParseInbound(raw []byte) (*InboundMessage, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("message is not a JSON object: %w", err)
	}

	if _, ok := probe["state"]; ok {
		return parseShadow(raw)
	}

	if _, ok := probe["geo"]; ok {
		return parseGeoOverride(raw)
	}

	var app AppMessage
	if err := json.Unmarshal(raw, &app); err != nil {
		return nil, fmt.Errorf("invalid application message: %w", err)
	}

	if app.AppID == "" {
		return nil, ErrMissingAppID
	}

	app.Raw = append(json.RawMessage(nil), raw...)

	return &InboundMessage{Kind: KindAppMessage, App: &app}, nil
}

func parseShadow(raw []byte) (*InboundMessage, error) {
	shadow := &ShadowUpdate{Raw: append(json.RawMessage(nil), raw...)}

	var env shadowEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid shadow update: %w", err)
	}

	if env.State != nil && env.State.Reported != nil && env.State.Reported.Device != nil {
		dev := env.State.Reported.Device

		if dev.NetworkInfo != nil {
			var info NetworkInfo
			if err := json.Unmarshal(*dev.NetworkInfo, &info); err == nil {
				info.Raw = append(json.RawMessage(nil), *dev.NetworkInfo...)
				shadow.NetworkInfo = &info
			}
		}

		if dev.DeviceInfo != nil {
			shadow.IMEI = dev.DeviceInfo.IMEI
		}
	}

	return &InboundMessage{Kind: KindShadowUpdate, Shadow: shadow}, nil
}

func parseGeoOverride(raw []byte) (*InboundMessage, error) {
	var env overrideEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid geo override: %w", err)
	}

	if len(env.Geo) != 2 {
		return nil, ErrBadGeoOverride
	}

	lat, err := parseGeoElement(env.Geo[0])
	if err != nil {
		return nil, err
	}

	lng, err := parseGeoElement(env.Geo[1])
	if err != nil {
		return nil, err
	}

	return &InboundMessage{
		Kind:     KindManualGeoOverride,
		Override: &ManualGeoOverride{Lat: lat, Lng: lng},
	}, nil
}

// parseGeoElement accepts both JSON numbers and numeric strings; devices
// send either depending on firmware.
func parseGeoElement(raw json.RawMessage) (float64, error) {
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		value, convErr := strconv.ParseFloat(asString, 64)
		if convErr != nil {
			return 0, fmt.Errorf("%w: %q", errUnparsableGeoElem, asString)
		}

		return value, nil
	}

	return 0, fmt.Errorf("%w: %s", errUnparsableGeoElem, raw)
}

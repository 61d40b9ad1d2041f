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

// Package nmea decodes NMEA 0183 sentences carried as telemetry payloads.
// Only the GGA position fix sentence yields a GeoFix; other recognized
// sentence types parse cleanly but are ignored by callers.
package nmea

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fieldgate/pkg/models"
)

const ggaMinFields = 11

var (
	ErrMissingStart    = errors.New("nmea: missing '$'")
	ErrMissingChecksum = errors.New("nmea: missing checksum")
	ErrShortChecksum   = errors.New("nmea: short checksum")
	ErrBadChecksum     = errors.New("nmea: bad checksum")
	ErrChecksumMatch   = errors.New("nmea: checksum mismatch")
	ErrShortType       = errors.New("nmea: short type")
	ErrFieldCount      = errors.New("nmea: field count mismatch")
)

// Sentence is a checksum-validated NMEA sentence. Type is the three letter
// sentence id (GGA, RMC, ...) regardless of talker prefix.
type Sentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

// ParseSentence validates framing and checksum and splits the payload.
func ParseSentence(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Sentence{}, ErrMissingStart
	}

	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return Sentence{}, ErrMissingChecksum
	}

	payload := line[1:star]

	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return Sentence{}, ErrShortChecksum
	}

	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return Sentence{}, ErrBadChecksum
	}

	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}

	if got != want[0] {
		return Sentence{}, ErrChecksumMatch
	}

	parts := strings.Split(payload, ",")

	typeField := parts[0]
	if len(typeField) < 3 {
		return Sentence{}, ErrShortType
	}

	// Accept GNxxx/GPxxx etc; normalize to the last 3 chars.
	t := typeField
	if len(t) > 3 {
		t = t[len(t)-3:]
	}

	return Sentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// Decode parses a sentence and, for a GGA sentence with a usable fix,
// returns the position. A valid non-position sentence returns (nil, nil).
// A GGA sentence without fix quality also returns (nil, nil): the device
// has a receiver but no satellites yet.
func Decode(line string, now time.Time) (*models.GeoFix, error) {
	sentence, err := ParseSentence(line)
	if err != nil {
		return nil, err
	}

	if sentence.Type != "GGA" {
		return nil, nil
	}

	return decodeGGA(sentence.Fields, now)
}

// GGA: Global Positioning System Fix Data
// Fields:
//
//	0: talker+type
//	1: time (hhmmss.sss)
//	2: latitude (ddmm.mmmm)
//	3: N/S
//	4: longitude (dddmm.mmmm)
//	5: E/W
//	6: fix quality (0=invalid)
func decodeGGA(f []string, now time.Time) (*models.GeoFix, error) {
	if len(f) < ggaMinFields {
		return nil, fmt.Errorf("%w: GGA has %d fields", ErrFieldCount, len(f))
	}

	fixQ := strings.TrimSpace(f[6])
	if fixQ == "" || fixQ == "0" {
		return nil, nil
	}

	lat, latOK := parseLatLon(f[2], f[3])
	lng, lngOK := parseLatLon(f[4], f[5])

	if !latOK || !lngOK {
		return nil, nil
	}

	return &models.GeoFix{
		Lat:       lat,
		Lng:       lng,
		Timestamp: fixTime(f[1], now),
	}, nil
}

func parseLatLon(v, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))

	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	// The last two digits of the integer part are whole minutes.
	dot := strings.IndexByte(v, '.')

	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}

	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}

	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + mins/60.0
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}

	return dec, true
}

// fixTime combines the sentence's hhmmss.sss time-of-day with the current
// date. Sentences carry no date, so a fix received just after midnight with
// yesterday's clock is attributed to today; acceptable for live tracking.
func fixTime(field string, now time.Time) time.Time {
	field = strings.TrimSpace(field)
	if len(field) < 6 {
		return now
	}

	hh, errH := strconv.Atoi(field[0:2])
	mm, errM := strconv.Atoi(field[2:4])

	ss, errS := strconv.ParseFloat(field[4:], 64)
	if errH != nil || errM != nil || errS != nil {
		return now
	}

	year, month, day := now.UTC().Date()
	sec := int(ss)
	nsec := int((ss - float64(sec)) * float64(time.Second))

	return time.Date(year, month, day, hh, mm, sec, nsec, time.UTC)
}

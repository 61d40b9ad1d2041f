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

// Package udp implements the gateway's ingestion server for the compact
// colon-delimited device wire format.
package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/carverauto/fieldgate/pkg/logger"
)

const maxDatagramSize = 65507

var errEmptyShortID = errors.New("short id empty after sanitizing")

// Handler receives one parsed wire message. Implementations must not
// block: the receive loop calls it inline for every datagram.
type Handler func(ctx context.Context, shortID string, payload []byte)

// Server frames and parses the UDP wire protocol. Datagram boundaries are
// message boundaries; there is no length prefix or checksum.
type Server struct {
	port    int
	handler Handler
	logger  logger.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewServer(port int, handler Handler, log logger.Logger) *Server {
	return &Server{port: port, handler: handler, logger: log}
}

// Listen binds the socket and processes datagrams until ctx is canceled or
// a socket error occurs. Socket errors are returned, not swallowed: the
// caller treats them as fatal.
func (s *Server) Listen(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: s.port})
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", s.port, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info().
		Str("addr", conn.LocalAddr().String()).
		Msg("UDP server is listening")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagramSize)

	for {
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("UDP receive failed: %w", err)
		}

		s.handleDatagram(ctx, remote, buf[:n])
	}
}

// Addr returns the bound socket address, or nil before Listen has bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	return s.conn.LocalAddr()
}

// handleDatagram parses "<shortId>:<jsonPayload>". Malformed datagrams are
// dropped with a log entry and never reach the handler.
func (s *Server) handleDatagram(ctx context.Context, remote *net.UDPAddr, datagram []byte) {
	text := strings.TrimSpace(string(datagram))

	s.logger.Debug().
		Str("remote", remote.String()).
		Str("datagram", text).
		Msg("UDP message received")

	shortID, payload, found := strings.Cut(text, ":")
	if !found {
		s.logger.Warn().
			Str("remote", remote.String()).
			Str("datagram", text).
			Msg("Dropping datagram without short id delimiter")

		return
	}

	shortID, err := sanitizeShortID(shortID)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("remote", remote.String()).
			Msg("Dropping datagram with invalid short id")

		return
	}

	if !json.Valid([]byte(payload)) {
		s.logger.Warn().
			Str("remote", remote.String()).
			Str("short_id", shortID).
			Str("payload", payload).
			Msg("Failed to parse message as JSON")

		return
	}

	s.handler(ctx, shortID, []byte(payload))
}

// sanitizeShortID keeps only identifier characters so hostile input cannot
// smuggle lookup keys. An id that sanitizes to nothing is rejected.
func sanitizeShortID(raw string) (string, error) {
	var b strings.Builder

	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "", errEmptyShortID
	}

	return b.String(), nil
}

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

package cloudlink

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/carverauto/fieldgate/pkg/logger"
	"github.com/carverauto/fieldgate/pkg/models"
)

var (
	ErrNotConnected   = errors.New("cloud link is not connected")
	ErrCAParseFailed  = errors.New("failed to parse CA certificate")
	ErrNilRecord      = errors.New("device record is nil")
	ErrEmptyEndpoint  = errors.New("cloud link endpoint is empty")
	ErrAlreadyStarted = errors.New("cloud link already connected")
)

// NATSFactory creates NATS-backed cloud links. Each device gets its own
// connection authenticated with its certificate material.
type NATSFactory struct {
	endpoint string
	prefix   string
	logger   logger.Logger
}

func NewNATSFactory(endpoint, messagesPrefix string, log logger.Logger) (*NATSFactory, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	return &NATSFactory{
		endpoint: endpoint,
		prefix:   messagesPrefix,
		logger:   log,
	}, nil
}

func (f *NATSFactory) NewLink(record *models.DeviceRecord, onEvent EventHandler) (Link, error) {
	if record == nil {
		return nil, ErrNilRecord
	}

	return &natsLink{
		endpoint: f.endpoint,
		prefix:   f.prefix,
		record:   record,
		onEvent:  onEvent,
		logger:   f.logger.WithComponent("cloudlink"),
	}, nil
}

type natsLink struct {
	endpoint string
	prefix   string
	record   *models.DeviceRecord
	onEvent  EventHandler
	logger   zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn
}

func (l *natsLink) emit(event Event, err error) {
	l.logger.Debug().
		Str("device_id", l.record.DeviceID).
		Str("event", event.String()).
		Err(err).
		Msg("Cloud link lifecycle event")

	if l.onEvent != nil {
		l.onEvent(event, err)
	}
}

func (l *natsLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return ErrAlreadyStarted
	}

	opts := []nats.Option{
		nats.Name(l.record.DeviceID),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.emit(EventDisconnected, err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			l.emit(EventReconnecting, nil)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			l.emit(EventError, err)
		}),
	}

	if l.record.ClientCert != "" && l.record.PrivateKey != "" {
		tlsConfig, err := deviceTLSConfig(l.record)
		if err != nil {
			return err
		}

		opts = append(opts, nats.Secure(tlsConfig))
	}

	conn, err := nats.Connect(l.endpoint, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect device %s: %w", l.record.DeviceID, err)
	}

	l.conn = conn
	l.emit(EventConnected, nil)

	return nil
}

func (l *natsLink) Publish(ctx context.Context, channel string, payload []byte) error {
	conn := l.current()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.Publish(channel, payload); err != nil {
		return err
	}

	return conn.FlushWithContext(ctx)
}

func (l *natsLink) Subscribe(channel string, handler func(payload []byte)) error {
	conn := l.current()
	if conn == nil {
		return ErrNotConnected
	}

	_, err := conn.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})

	return err
}

func (l *natsLink) UpdateShadow(ctx context.Context, patch []byte) error {
	return l.Publish(ctx, ShadowChannel(l.prefix, l.record.DeviceID), patch)
}

func (l *natsLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}

	return nil
}

func (l *natsLink) current() *nats.Conn {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.conn
}

// deviceTLSConfig builds mutual-TLS credentials from the record's opaque
// certificate material.
func deviceTLSConfig(record *models.DeviceRecord) (*tls.Config, error) {
	cert, err := tls.X509KeyPair([]byte(record.ClientCert), []byte(record.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate for %s: %w", record.DeviceID, err)
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	if record.CACert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(record.CACert)) {
			return nil, ErrCAParseFailed
		}

		cfg.RootCAs = pool
	}

	return cfg, nil
}

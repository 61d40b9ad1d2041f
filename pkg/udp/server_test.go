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

package udp

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fieldgate/pkg/logger"
)

type received struct {
	shortID string
	payload string
}

type recorder struct {
	mu       sync.Mutex
	messages []received
}

func (r *recorder) handle(_ context.Context, shortID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, received{shortID: shortID, payload: string(payload)})
}

func (r *recorder) snapshot() []received {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]received(nil), r.messages...)
}

// startServer runs a server on an ephemeral port and returns a sender bound
// to it.
func startServer(t *testing.T, rec *recorder) func(string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(0, rec.handle, logger.NewTestLogger())

	done := make(chan error, 1)
	go func() { done <- srv.Listen(ctx) }()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	require.Eventually(t, func() bool { return srv.Addr() != nil },
		time.Second, 5*time.Millisecond)

	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return func(datagram string) {
		_, err := conn.Write([]byte(datagram))
		require.NoError(t, err)
	}
}

func TestServerDispatchesWellFormedDatagram(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	send := startServer(t, rec)

	send(`0:{"appId":"TEMP","data":"21.5"}`)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, "0", got.shortID)
	assert.JSONEq(t, `{"appId":"TEMP","data":"21.5"}`, got.payload)
}

func TestServerPayloadMayContainColons(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	send := startServer(t, rec)

	send(`3:{"appId":"DEVICE","data":"a:b:c"}`)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, "3", got.shortID)
	assert.JSONEq(t, `{"appId":"DEVICE","data":"a:b:c"}`, got.payload)
}

func TestServerDropsMalformedDatagrams(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	send := startServer(t, rec)

	send("no delimiter here")
	send(`1:not json at all`)
	send(`:{"appId":"TEMP","data":"1"}`)
	send(`!!!:{"appId":"TEMP","data":"1"}`)

	// A good datagram after the bad ones proves the loop survived them.
	send(`2:{"appId":"HUMID","data":"40"}`)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)

	got := rec.snapshot()[0]
	assert.Equal(t, "2", got.shortID)
}

func TestSanitizeShortID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: " dev-7_a ", want: "dev-7_a"},
		{in: "a b/c", want: "abc"},
		{in: "!!!", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := sanitizeShortID(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errEmptyShortID, "input %q", tt.in)
			continue
		}

		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

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

package cloud

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueCertificates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/devices/dev-1/certificates", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, "code-1", string(body))

		_ = json.NewEncoder(w).Encode(map[string]string{
			"caCert":     "ca-pem",
			"privateKey": "key-pem",
			"clientCert": "cert-pem",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	certs, err := client.IssueCertificates(context.Background(), "dev-1", "code-1")
	require.NoError(t, err)

	assert.Equal(t, "ca-pem", certs.CACert)
	assert.Equal(t, "key-pem", certs.PrivateKey)
	assert.Equal(t, "cert-pem", certs.ClientCert)
}

func TestAssociateDeviceUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/association/dev-1", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	err := client.AssociateDevice(context.Background(), "dev-1", "code-1")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestDescribeAccount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/account", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"endpoint": "nats://broker.example.com:4222",
			"topics":   map[string]string{"messagesPrefix": "tenant-1/m/"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	account, err := client.DescribeAccount(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "nats://broker.example.com:4222", account.Endpoint)
	assert.Equal(t, "tenant-1/m/", account.MessagesPrefix)
}

func TestListDevices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/devices", r.URL.Path)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]string{
				{"id": "dev-1", "name": "Unit One"},
				{"id": "dev-2", "name": "Unit Two"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	devices, err := client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, DeviceInfo{ID: "dev-1", Name: "Unit One"}, devices[0])
}

func TestFetchDeviceState(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/devices/dev-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"dev-1","state":{"reported":{"temperature":21}}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	state, err := client.FetchDeviceState(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"reported":{"temperature":21}}`, string(state))
}

// TestFetchHistoryPagination walks two pages and keeps only the newest value
// per recognized appId.
func TestFetchHistoryPagination(t *testing.T) {
	t.Parallel()

	pages := map[string]string{
		"": `{
			"items": [
				{"message": {"appId": "TEMP", "data": "21.5"}},
				{"message": {"appId": "BUTTON", "data": "1"}},
				{"message": {"appId": "TEMP", "data": "20.0"}}
			],
			"nextStartKey": "page-2"
		}`,
		"page-2": `{
			"items": [
				{"message": {"appId": "HUMID", "data": "40"}},
				{"message": {"appId": "TEMP", "data": "19.0"}}
			]
		}`,
	}

	var requests []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "dev-1", r.URL.Query().Get("deviceIdentifiers"))
		assert.Equal(t, "10", r.URL.Query().Get("pageLimit"))
		assert.Equal(t, "desc", r.URL.Query().Get("pageSort"))

		token := r.URL.Query().Get("pageNextToken")
		requests = append(requests, token)

		_, _ = w.Write([]byte(pages[token]))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	end := time.Now()
	start := end.Add(-24 * time.Hour)

	latest, err := client.FetchHistory(context.Background(), "dev-1", start, end,
		[]string{"TEMP", "HUMID"})
	require.NoError(t, err)

	assert.Equal(t, []string{"", "page-2"}, requests)
	assert.Equal(t, map[string]string{"TEMP": "21.5", "HUMID": "40"}, latest)
}

func TestFetchHistoryEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key", srv.Client())

	latest, err := client.FetchHistory(context.Background(), "dev-1",
		time.Now().Add(-time.Hour), time.Now(), []string{"TEMP"})
	require.NoError(t, err)
	assert.Empty(t, latest)
}

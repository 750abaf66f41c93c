package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrogo-wsu/field-agent/internal/config"
	"github.com/agrogo-wsu/field-agent/internal/rules"
)

func backendFor(server *httptest.Server) config.Backend {
	return config.Backend{
		ConfigURLTemplate: server.URL + "/device/{mac}/config",
		UploadURLTemplate: server.URL + "/device/{mac}/data",
		NotifyURLTemplate: server.URL + "/device/{mac}/notify",
		PairingStatusURL:  server.URL + "/api/raspi/pairingStatus",
	}
}

func TestFetchActionTable(t *testing.T) {
	var gotPath, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"pinActionTable": [{"type": "fan", "pin": 17, "time": "06:00", "duration": 300}]}`))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "b8:27:eb:01:02:03", "tok-123")
	table, err := c.FetchActionTable(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "/device/b8:27:eb:01:02:03/config", gotPath)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	require.Len(t, table, 1)
	assert.Equal(t, 17, table[0].Pin)
	assert.Equal(t, "06:00", table[0].ScheduledTime)
}

func TestFetchActionTableBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"type": "water", "pin": 27, "duration": 60}]`))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	table, err := c.FetchActionTable(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, 27, table[0].Pin)
}

func TestFetchActionTableServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	_, err := c.FetchActionTable(context.Background())
	assert.Error(t, err)
}

func TestFetchActionTableSkipsBadEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pinActionTable": [{"type": "fan"}, {"type": "water", "pin": 27, "duration": 60}]}`))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	table, err := c.FetchActionTable(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 1)
	assert.Equal(t, "water", table[0].Kind)
}

func TestUploadTelemetry(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	temp, hum := 23.5, 61.0
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	c := NewClient(backendFor(server), "b8:27:eb:01:02:03", "tok")
	err := c.UploadTelemetry(context.Background(), rules.Reading{Temperature: &temp, Humidity: &hum}, at)
	require.NoError(t, err)

	assert.Equal(t, "b8:27:eb:01:02:03", got["deviceId"])
	assert.NotEmpty(t, got["messageId"])
	assert.Equal(t, "2026-05-01T12:00:00Z", got["timestamp"])
	readings := got["readings"].(map[string]any)
	assert.Equal(t, 23.5, readings["temp"])
	assert.Equal(t, 61.0, readings["humidity"])
}

func TestUploadTelemetryRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	err := c.UploadTelemetry(context.Background(), rules.Reading{}, time.Now())
	assert.Error(t, err)
}

func TestNotifyChange(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	require.NoError(t, c.NotifyChange(context.Background()))
	assert.Equal(t, "config_applied", got["event"])
}

func TestPairingStatus(t *testing.T) {
	paired := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "b8:27:eb:01:02:03", r.URL.Query().Get("mac"))
		if !paired {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"firebaseUid": "firebase|abc123"}`))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "b8:27:eb:01:02:03", "")

	// Not yet paired: empty uid, no error.
	uid, err := c.PairingStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, uid)

	paired = true
	uid, err = c.PairingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "firebase|abc123", uid)
}

func TestPairingStatusAltKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"firebase_uid": "firebase|xyz"}`))
	}))
	defer server.Close()

	c := NewClient(backendFor(server), "mac", "")
	uid, err := c.PairingStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "firebase|xyz", uid)
}

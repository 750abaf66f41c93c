// Package cloud talks to the AgroGo backend over HTTP: action table
// fetch, telemetry upload, change notification, and pairing status.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agrogo-wsu/field-agent/internal/config"
	"github.com/agrogo-wsu/field-agent/internal/rules"
)

const requestTimeout = 10 * time.Second

// Client is the backend HTTP client. Every endpoint failure is
// returned to the caller; the control loop decides what is fatal
// (nothing is).
type Client struct {
	httpClient *http.Client
	deviceID   string
	token      string // opaque bearer credential, passed through as-is
	backend    config.Backend
}

// NewClient creates a backend client for the given device identity.
// token may be empty for a device that has not paired yet.
func NewClient(backend config.Backend, deviceID, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		deviceID:   deviceID,
		token:      token,
		backend:    backend,
	}
}

// expand substitutes the device id into a URL template.
func (c *Client) expand(template string) string {
	return strings.ReplaceAll(template, "{mac}", url.PathEscape(c.deviceID))
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// tablePayload is the config endpoint response envelope.
type tablePayload struct {
	PinActionTable json.RawMessage `json:"pinActionTable"`
}

// FetchActionTable GETs the device config and returns its pin action
// table. Malformed entries are skipped and logged; only a transport
// or payload-level failure returns an error.
func (c *Client) FetchActionTable(ctx context.Context) (rules.Table, error) {
	endpoint := c.expand(c.backend.ConfigURLTemplate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch config: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read config response: %w", err)
	}

	// The backend normally wraps the table in a config document, but
	// older deployments return the bare array.
	raw := body
	var envelope tablePayload
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.PinActionTable != nil {
		raw = envelope.PinActionTable
	}

	table, errs := rules.DecodeTable(raw)
	if table == nil && len(errs) > 0 {
		// Nothing usable came back; keep the previous table.
		return nil, fmt.Errorf("parse config: %w", errs[0])
	}
	for _, e := range errs {
		log.Printf("cloud: skipping malformed entry: %v", e)
	}
	return table, nil
}

// telemetryPayload is the upload body.
type telemetryPayload struct {
	DeviceID  string         `json:"deviceId"`
	MessageID string         `json:"messageId"`
	Timestamp string         `json:"timestamp"`
	Readings  readingPayload `json:"readings"`
}

type readingPayload struct {
	Temperature *float64 `json:"temp,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
}

// UploadTelemetry POSTs one reading. Fire-and-forget from the loop's
// perspective: an error here is logged by the caller and the reading
// is dropped, not retried.
func (c *Client) UploadTelemetry(ctx context.Context, r rules.Reading, at time.Time) error {
	payload := telemetryPayload{
		DeviceID:  c.deviceID,
		MessageID: uuid.NewString(),
		Timestamp: at.UTC().Format(time.RFC3339),
		Readings: readingPayload{
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
		},
	}
	return c.post(ctx, c.expand(c.backend.UploadURLTemplate), payload)
}

// NotifyChange tells the backend a fetched table was applied.
// Best-effort; the backend uses it to mark the device in sync.
func (c *Client) NotifyChange(ctx context.Context) error {
	payload := map[string]string{
		"deviceId":  c.deviceID,
		"event":     "config_applied",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return c.post(ctx, c.expand(c.backend.NotifyURLTemplate), payload)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", endpoint, resp.StatusCode)
	}
	return nil
}

// pairingResponse tolerates both uid key spellings the backend has
// used.
type pairingResponse struct {
	FirebaseUID    string `json:"firebaseUid"`
	FirebaseUIDAlt string `json:"firebase_uid"`
}

// PairingStatus asks the backend whether a user has claimed this
// device. Returns the firebase uid once paired, or empty while the
// backend still answers 204/404/empty — that is polling, not an
// error.
func (c *Client) PairingStatus(ctx context.Context) (string, error) {
	endpoint := c.backend.PairingStatusURL + "?mac=" + url.QueryEscape(c.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build pairing request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("pairing status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var pr pairingResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("decode pairing response: %w", err)
	}
	if pr.FirebaseUID != "" {
		return pr.FirebaseUID, nil
	}
	return pr.FirebaseUIDAlt, nil
}

// Package client is the admin API client used by suimonctl. It speaks to the
// provisioning endpoints, which sit behind the admin Bearer token.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mizusense/suimon/internal/server/db"
)

// ErrConflict marks a 409 from the server, such as provisioning a device id
// that already exists.
var ErrConflict = errors.New("conflict")

// Client calls the suimon server's admin surface.
type Client struct {
	baseURL    string
	adminToken string
	http       *http.Client
}

func New(serverURL, adminToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(serverURL, "/"),
		adminToken: adminToken,
		http:       &http.Client{Timeout: 20 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(method, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Error != "" {
			if resp.StatusCode == http.StatusConflict {
				return fmt.Errorf("%w: %s", ErrConflict, ae.Error)
			}
			return fmt.Errorf("server: %s (HTTP %d)", ae.Error, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusConflict {
			return ErrConflict
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateDeviceRequest mirrors the provisioning endpoint's body.
type CreateDeviceRequest struct {
	DeviceID        string   `json:"deviceId"`
	Label           string   `json:"label,omitempty"`
	Site            string   `json:"site,omitempty"`
	FieldID         string   `json:"fieldId,omitempty"`
	Location        string   `json:"location,omitempty"`
	FirmwareVersion string   `json:"firmwareVersion,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lon             *float64 `json:"lon,omitempty"`
}

func (c *Client) CreateDevice(req CreateDeviceRequest) error {
	return c.do(http.MethodPost, "/v1/devices", req, nil)
}

// SeedDevices provisions each entry, skipping ids the catalog already has.
// Any other failure aborts the run with the counts so far.
func (c *Client) SeedDevices(reqs []CreateDeviceRequest) (created, skipped int, err error) {
	for _, req := range reqs {
		if req.DeviceID == "" {
			return created, skipped, fmt.Errorf("seed entry %d: deviceId is required", created+skipped+1)
		}
		if err := c.CreateDevice(req); err != nil {
			if errors.Is(err, ErrConflict) {
				skipped++
				continue
			}
			return created, skipped, fmt.Errorf("device %s: %w", req.DeviceID, err)
		}
		created++
	}
	return created, skipped, nil
}

func (c *Client) ListDevices() ([]db.Device, error) {
	var devices []db.Device
	if err := c.do(http.MethodGet, "/v1/devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *Client) GetDevice(deviceID string) (map[string]any, error) {
	var view map[string]any
	if err := c.do(http.MethodGet, "/v1/devices/"+deviceID, nil, &view); err != nil {
		return nil, err
	}
	return view, nil
}

// IngestMeasurement records one sample for a device. ts may be zero for "now".
func (c *Client) IngestMeasurement(deviceID string, value float64, ts time.Time) error {
	body := map[string]any{"value": value}
	if !ts.IsZero() {
		body["time"] = ts.UTC().Format(time.RFC3339)
	}
	return c.do(http.MethodPost, "/v1/devices/"+deviceID+"/measurements", body, nil)
}

// LatestMeasurement returns the newest sample, or nil time/value fields when
// the device has never reported.
type LatestMeasurement struct {
	DeviceID string   `json:"deviceId"`
	Time     *string  `json:"time"`
	Value    *float64 `json:"value"`
}

func (c *Client) Latest(deviceID string) (*LatestMeasurement, error) {
	var m LatestMeasurement
	if err := c.do(http.MethodGet, "/v1/devices/"+deviceID+"/latest", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ABOUTME: HTTP client for a running BreezeBeats server's API
// ABOUTME: Backs the device and queue subcommands of the CLI
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AutoBreezeBeats/breezebeats/internal/devices"
	"github.com/AutoBreezeBeats/breezebeats/internal/playback"
	"github.com/AutoBreezeBeats/breezebeats/internal/server"
)

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// API talks to the HTTP endpoints of a server
type API struct {
	base string
	http *http.Client
}

// NewAPI creates an API client. serverAddr is host:port or a full URL.
func NewAPI(serverAddr string, httpClient *http.Client) *API {
	base := strings.TrimRight(serverAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if httpClient == nil {
		// Video resolution may take a while
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{base: base, http: httpClient}
}

// Devices lists known devices by address
func (a *API) Devices(ctx context.Context) (map[string]devices.DeviceSummary, error) {
	var out map[string]devices.DeviceSummary
	err := a.do(ctx, http.MethodGet, "/devices", nil, &out)
	return out, err
}

// Connect connects a device and returns the server's status text
func (a *API) Connect(ctx context.Context, address string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := a.do(ctx, http.MethodPost, "/devices/connect", map[string]string{"address": address}, &out)
	return out.Status, err
}

// Disconnect disconnects a device and returns the server's status text
func (a *API) Disconnect(ctx context.Context, address string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := a.do(ctx, http.MethodPost, "/devices/disconnect", map[string]string{"address": address}, &out)
	return out.Status, err
}

// SetSink selects the audio output; an empty address selects the default
func (a *API) SetSink(ctx context.Context, address string) (string, error) {
	body := map[string]*string{"address": nil}
	if address != "" {
		body["address"] = &address
	}
	var out struct {
		Message string `json:"message"`
	}
	err := a.do(ctx, http.MethodPut, "/devices/set-sink", body, &out)
	return out.Message, err
}

// Scan asks the server for an immediate discovery tick
func (a *API) Scan(ctx context.Context) error {
	return a.do(ctx, http.MethodPost, "/devices/scan", nil, nil)
}

// AddVideo queues a video URL
func (a *API) AddVideo(ctx context.Context, rawURL string) (playback.Item, error) {
	var item playback.Item
	err := a.do(ctx, http.MethodPost, "/video", map[string]string{"url": rawURL}, &item)
	return item, err
}

// Queue returns the server's queue snapshot
func (a *API) Queue(ctx context.Context) (playback.Snapshot, error) {
	var snap playback.Snapshot
	err := a.do(ctx, http.MethodGet, "/queue", nil, &snap)
	return snap, err
}

// Host returns application and host details
func (a *API) Host(ctx context.Context) (server.HostDetails, error) {
	var host server.HostDetails
	err := a.do(ctx, http.MethodGet, "/host", nil, &host)
	return host, err
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody server.ErrorBody
		if json.Unmarshal(data, &errBody) != nil || errBody.Message == "" {
			errBody.Message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Code: errBody.Error, Message: errBody.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Package client is the HTTP client side of the platterd control API, used
// by the CLI.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"platter/internal/api"
)

// Client talks to a running platterd instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a client for the daemon listening at bind (host:port).
func New(bind string) *Client {
	bind = strings.TrimSpace(bind)
	baseURL := bind
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Status fetches combined unit activity.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Start asks the daemon to activate the audio system.
func (c *Client) Start(ctx context.Context) error {
	var out api.AckResponse
	return c.doJSON(ctx, http.MethodPost, "/api/start", nil, &out)
}

// Stop asks the daemon to deactivate the audio system.
func (c *Client) Stop(ctx context.Context) (api.StopResponse, error) {
	var out api.StopResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/stop", nil, &out)
	return out, err
}

// Enable marks both units to start at boot.
func (c *Client) Enable(ctx context.Context) error {
	var out api.AckResponse
	return c.doJSON(ctx, http.MethodPost, "/api/enable", nil, &out)
}

// Disable removes both units from boot startup.
func (c *Client) Disable(ctx context.Context) error {
	var out api.AckResponse
	return c.doJSON(ctx, http.MethodPost, "/api/disable", nil, &out)
}

// Outputs fetches the merged output list.
func (c *Client) Outputs(ctx context.Context) ([]api.Output, error) {
	var out api.OutputsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/outputs", nil, &out); err != nil {
		return nil, err
	}
	return out.Outputs, nil
}

// UpdateOutput applies a partial update to one output.
func (c *Client) UpdateOutput(ctx context.Context, outputID string, req api.OutputUpdateRequest) error {
	return c.doJSON(ctx, http.MethodPut, "/api/outputs/"+outputID, req, nil)
}

// Defaults fetches the persisted default map.
func (c *Client) Defaults(ctx context.Context) (map[string]int, error) {
	var out api.DefaultsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/defaults", nil, &out); err != nil {
		return nil, err
	}
	return out.Defaults, nil
}

// ReplaceDefaults swaps the persisted default map wholesale.
func (c *Client) ReplaceDefaults(ctx context.Context, defaults map[string]int) error {
	return c.doJSON(ctx, http.MethodPut, "/api/defaults", api.DefaultsUpdateRequest{Defaults: defaults}, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is platterd running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr api.ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Event is one push event received over the watch stream.
type Event struct {
	Type string
	Data json.RawMessage
}

// Watch consumes the SSE stream and invokes handle for each event until the
// context is cancelled or the stream ends.
func (c *Client) Watch(ctx context.Context, handle func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream stays open indefinitely, so the watch request gets its own
	// client without the default timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("is platterd running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				handle(Event{Type: eventType, Data: json.RawMessage(data.String())})
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return nil
}

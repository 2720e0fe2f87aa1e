// Package owntone talks to the OwnTone JSON API for output discovery and
// control. Every call is bounded by the configured request timeout so a
// wedged audio server cannot stall the reconciler.
package owntone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"platter/internal/api"
	"platter/internal/config"
)

// HTTPDoer describes the HTTP client used by the OwnTone client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Output is one speaker or stream endpoint reported by OwnTone.
type Output struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Selected bool   `json:"selected"`
	Volume   int    `json:"volume"`
}

type outputsEnvelope struct {
	Outputs []Output `json:"outputs"`
}

// Client issues requests against a single OwnTone endpoint.
type Client struct {
	baseURL string
	timeout time.Duration
	client  HTTPDoer
}

// NewClient constructs an OwnTone client from configuration.
func NewClient(cfg *config.Config) *Client {
	if cfg == nil {
		return &Client{baseURL: "http://127.0.0.1:3689/api", timeout: 5 * time.Second, client: http.DefaultClient}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.Owntone.Endpoint), "/"),
		timeout: cfg.OwntoneTimeout(),
		client:  &http.Client{Timeout: cfg.OwntoneTimeout()},
	}
}

// NewClientWithDoer constructs a client with an injected HTTP doer, used by
// tests and by callers that manage their own transport.
func NewClientWithDoer(baseURL string, timeout time.Duration, doer HTTPDoer) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: timeout,
		client:  doer,
	}
}

// ListOutputs fetches the current output set from OwnTone.
func (c *Client) ListOutputs(ctx context.Context) ([]Output, error) {
	body, err := c.do(ctx, http.MethodGet, "/outputs", nil)
	if err != nil {
		return nil, err
	}

	var envelope outputsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", "list outputs", fmt.Errorf("decode response: %w", err))
	}
	return envelope.Outputs, nil
}

// SetSelected enables or disables an output. Selecting an already selected
// output is harmless on the OwnTone side.
func (c *Client) SetSelected(ctx context.Context, outputID string, selected bool) error {
	payload, err := json.Marshal(map[string]bool{"selected": selected})
	if err != nil {
		return api.Wrap(api.ErrUpstreamUnavailable, "owntone", "set selected", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/outputs/"+outputID, payload)
	return err
}

// SetVolume sets the per-output volume, clamped to 0-100 before sending.
func (c *Client) SetVolume(ctx context.Context, outputID string, volume int) error {
	payload, err := json.Marshal(map[string]int{"volume": ClampVolume(volume)})
	if err != nil {
		return api.Wrap(api.ErrUpstreamUnavailable, "owntone", "set volume", err)
	}
	_, err = c.do(ctx, http.MethodPut, "/outputs/"+outputID, payload)
	return err
}

// ClampVolume bounds a requested volume to the range OwnTone accepts.
func ClampVolume(volume int) int {
	if volume < 0 {
		return 0
	}
	if volume > 100 {
		return 100
	}
	return volume
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c == nil || c.client == nil || c.baseURL == "" {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", "request", errors.New("client is not configured"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", "read response", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, api.Wrap(api.ErrUpstreamUnavailable, "owntone", method+" "+path,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return data, nil
}

// Package api is the typed HTTP client for the controller's
// configuration endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gptgemini168-cpu/Wireguard-Controller/internal/status"
)

const defaultTimeout = 15 * time.Second

// RequestError is returned for any non-2xx controller response. Detail
// comes from the structured error body when the controller sends one.
type RequestError struct {
	Status int
	Detail string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("controller returned %d: %s", e.Status, e.Detail)
}

// Client talks to one controller instance. The zero value is not
// usable; construct with New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client for the controller at baseURL, e.g.
// "http://10.0.0.1:8080". A non-positive timeout falls back to 15s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the configured controller base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchStatus GETs the current snapshot.
func (c *Client) FetchStatus(ctx context.Context) (status.SystemStatus, error) {
	return c.roundTrip(ctx, http.MethodGet, "/v1/status", nil)
}

// Apply POSTs a partial intent to the atomic merge endpoint and returns
// the resulting authoritative status. Absent fields are left unchanged
// by the controller.
func (c *Client) Apply(ctx context.Context, in status.ApplyIntent) (status.SystemStatus, error) {
	return c.roundTrip(ctx, http.MethodPost, "/v1/apply", in)
}

// SetPrimary toggles the wg0 tunnel via its single-field endpoint.
// Superseded by Apply for panel flows; kept because the controller
// exposes it.
func (c *Client) SetPrimary(ctx context.Context, enabled bool) (status.SystemStatus, error) {
	return c.roundTrip(ctx, http.MethodPost, "/v1/wg0", map[string]bool{"enabled": enabled})
}

// SetSecure toggles the ss tunnel via its single-field endpoint.
func (c *Client) SetSecure(ctx context.Context, enabled bool) (status.SystemStatus, error) {
	return c.roundTrip(ctx, http.MethodPost, "/v1/ss", map[string]bool{"enabled": enabled})
}

// SetProfile switches the secure tunnel's regional profile. restart
// asks the controller to bounce the tunnel if it is up.
func (c *Client) SetProfile(ctx context.Context, p status.Profile, restart bool) (status.SystemStatus, error) {
	body := map[string]interface{}{"profile": p}
	if restart {
		body["restart"] = true
	}
	return c.roundTrip(ctx, http.MethodPut, "/v1/ss/profile", body)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body interface{}) (status.SystemStatus, error) {
	var out status.SystemStatus

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out, fmt.Errorf("encode %s body: %w", path, err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return out, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &RequestError{Status: resp.StatusCode, Detail: errorDetail(data, resp.StatusCode)}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", path, err)
	}
	return out, nil
}

// errorDetail pulls the detail string out of a {"detail": "..."} body,
// falling back to a generic message with the HTTP status code.
func errorDetail(data []byte, code int) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && strings.TrimSpace(body.Detail) != "" {
		return body.Detail
	}
	return fmt.Sprintf("request failed with status %d", code)
}

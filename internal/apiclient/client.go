// Package apiclient talks to the ecofleet REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ecofleet-io/ecofleet/internal/compliance"
	"github.com/ecofleet-io/ecofleet/pkg/options"
)

const maxErrorBody = 512

// Response is a successful (2xx) API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is a thin JSON client for the REST API. Every call is bounded by
// the configured timeout in addition to the caller's context.
type Client struct {
	baseURL    *url.URL
	token      string
	timeout    time.Duration
	healthPath string
	http       *http.Client
}

// New creates a Client. A nil hc uses a default http.Client.
func New(opts *options.APIOptions, hc *http.Client) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL:    u,
		token:      opts.Token,
		timeout:    opts.Timeout,
		healthPath: opts.HealthPath,
		http:       hc,
	}, nil
}

// Request sends method to path with an optional JSON body. Non-2xx responses
// are returned as *ServerRejectedError or *ServerError, transport failures as
// *NetworkError.
func (c *Client) Request(ctx context.Context, method, path string, body []byte) (*Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.resolve(path)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, target, err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: target, Err: err}
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	case resp.StatusCode >= 300:
		// Redirects are followed by the http client, so a 3xx here is one it
		// would not follow, such as 304.
		return nil, &ServerRejectedError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// Ping checks the health endpoint of the API.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, http.MethodGet, c.healthPath, nil)
	return err
}

// ListVehicles returns every vehicle visible to the caller.
func (c *Client) ListVehicles(ctx context.Context) ([]compliance.Vehicle, error) {
	var out []compliance.Vehicle
	if err := c.list(ctx, "/api/vehicles", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOffices returns every government office.
func (c *Client) ListOffices(ctx context.Context) ([]compliance.Office, error) {
	var out []compliance.Office
	if err := c.list(ctx, "/api/offices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTests returns the emission tests recorded in year.
func (c *Client) ListTests(ctx context.Context, year int) ([]compliance.EmissionTest, error) {
	var out []compliance.EmissionTest
	if err := c.list(ctx, fmt.Sprintf("/api/emission-tests?year=%d", year), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, path string, out any) error {
	resp, err := c.Request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decodeList(resp.Body, out)
}

// decodeList accepts a bare JSON array or an envelope of the form {"data": [...]}.
func decodeList(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return fmt.Errorf("decode response envelope: %w", err)
		}
		trimmed = env.Data
	}
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return strings.TrimRight(c.baseURL.String(), "/") + path
	}
	return c.baseURL.ResolveReference(ref).String()
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return msg
}

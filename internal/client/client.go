// Package client is an HTTP client for the gateway API, used by the
// registration agent, the MCP server and operators.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codequerydev/codequery/internal/model"
)

// APIError is a non-2xx gateway response.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Status, e.Detail)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to one gateway with one API key.
type Client struct {
	baseURL string
	apiKey  string
	header  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHeader sets the header that carries the API key.
func WithHeader(name string) Option {
	return func(c *Client) { c.header = name }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for the gateway at baseURL.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		header:  "X-API-Key",
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks the gateway's liveness route.
func (c *Client) Health(ctx context.Context) error {
	var out model.MessageResponse
	return c.do(ctx, http.MethodGet, "/", nil, &out)
}

// RegisterEndpoint stores publicURL as the endpoint of apiKey.
func (c *Client) RegisterEndpoint(ctx context.Context, apiKey, publicURL string) error {
	var out model.StatusResponse
	return c.do(ctx, http.MethodPost, "/ngrok-urls/", model.RegisterEndpointRequest{APIKey: apiKey, NgrokURL: publicURL}, &out)
}

// Endpoint returns the endpoint the gateway holds for apiKey.
func (c *Client) Endpoint(ctx context.Context, apiKey string) (string, error) {
	var out model.EndpointResponse
	if err := c.do(ctx, http.MethodGet, "/ngrok-urls/"+url.PathEscape(apiKey), nil, &out); err != nil {
		return "", err
	}
	return out.NgrokURL, nil
}

// FileStructure returns the directory listing of the registered codebase.
func (c *Client) FileStructure(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/files/structure", nil, &out)
	return out, err
}

// FileContent returns the contents of paths.
func (c *Client) FileContent(ctx context.Context, paths []string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodPost, "/files/content", model.FileContentRequest{FilePaths: paths}, &out)
	return out, err
}

// Generate asks the gateway for a new key.
func (c *Client) Generate(ctx context.Context, req model.GenerateKeyRequest) (*model.GenerateKeyResponse, error) {
	var out model.GenerateKeyResponse
	if err := c.do(ctx, http.MethodPost, "/api-keys/generate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Purge deletes key. The client's own key must be key or the admin key.
func (c *Client) Purge(ctx context.Context, key string) (*model.PurgeResponse, error) {
	var out model.PurgeResponse
	if err := c.do(ctx, http.MethodDelete, "/api-keys/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env model.ErrorResponse
		if json.Unmarshal(data, &env) == nil && env.Detail != "" {
			apiErr.Detail = env.Detail
		} else {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

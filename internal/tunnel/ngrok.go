// Package tunnel reads the local control surface of a tunnel process.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAPIURL is where ngrok serves its local API.
const DefaultAPIURL = "http://localhost:4040/api/tunnels"

// ErrNoPublicURL means the tunnel is up but exposes no HTTPS address yet.
var ErrNoPublicURL = errors.New("tunnel has no public https url")

// Tunnel is one entry of the /api/tunnels listing.
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
}

type tunnelList struct {
	Tunnels []Tunnel `json:"tunnels"`
}

// NgrokClient queries the ngrok agent's local API.
type NgrokClient struct {
	apiURL string
	client *http.Client
}

// NewNgrokClient creates a client for apiURL. Every call is bounded by
// timeout.
func NewNgrokClient(apiURL string, timeout time.Duration) *NgrokClient {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NgrokClient{apiURL: apiURL, client: &http.Client{Timeout: timeout}}
}

// Healthy reports whether the local API answers with 200.
func (c *NgrokClient) Healthy(ctx context.Context) bool {
	resp, err := c.get(ctx)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// PublicURL returns the address of the first https tunnel.
func (c *NgrokClient) PublicURL(ctx context.Context) (string, error) {
	tunnels, err := c.Tunnels(ctx)
	if err != nil {
		return "", err
	}
	for _, t := range tunnels {
		if t.Proto == "https" && t.PublicURL != "" {
			return t.PublicURL, nil
		}
	}
	return "", ErrNoPublicURL
}

// Tunnels lists the tunnels the agent currently runs.
func (c *NgrokClient) Tunnels(ctx context.Context) ([]Tunnel, error) {
	resp, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tunnel api returned %s", resp.Status)
	}
	var list tunnelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode tunnel list: %w", err)
	}
	return list.Tunnels, nil
}

func (c *NgrokClient) get(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNgrok(t *testing.T, status int, body string) *NgrokClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewNgrokClient(srv.URL+"/api/tunnels", time.Second)
}

func TestPublicURLPicksHTTPS(t *testing.T) {
	c := newNgrok(t, 200, `{"tunnels":[
		{"name":"command_line (http)","public_url":"http://abc123.ngrok-free.app","proto":"http"},
		{"name":"command_line","public_url":"https://abc123.ngrok-free.app","proto":"https"}
	]}`)

	assert.True(t, c.Healthy(context.Background()))
	u, err := c.PublicURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://abc123.ngrok-free.app", u)
}

func TestPublicURLNoTunnels(t *testing.T) {
	c := newNgrok(t, 200, `{"tunnels":[]}`)
	_, err := c.PublicURL(context.Background())
	assert.ErrorIs(t, err, ErrNoPublicURL)
}

func TestPublicURLOnlyHTTP(t *testing.T) {
	c := newNgrok(t, 200, `{"tunnels":[{"public_url":"http://x.ngrok-free.app","proto":"http"}]}`)
	_, err := c.PublicURL(context.Background())
	assert.ErrorIs(t, err, ErrNoPublicURL)
}

func TestUnhealthyStatus(t *testing.T) {
	c := newNgrok(t, 502, `{}`)
	assert.False(t, c.Healthy(context.Background()))
	_, err := c.PublicURL(context.Background())
	assert.Error(t, err)
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewNgrokClient(url, 200*time.Millisecond)
	assert.False(t, c.Healthy(context.Background()))
	_, err := c.Tunnels(context.Background())
	assert.Error(t, err)
}

func TestMalformedList(t *testing.T) {
	c := newNgrok(t, 200, `not json`)
	_, err := c.Tunnels(context.Background())
	assert.ErrorContains(t, err, "decode tunnel list")
}

func TestDefaults(t *testing.T) {
	c := NewNgrokClient("", 0)
	assert.Equal(t, DefaultAPIURL, c.apiURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}

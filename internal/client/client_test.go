package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequerydev/codequery/internal/model"
)

// fakeGateway is a minimal gateway holding endpoints in a map.
func fakeGateway(t *testing.T) (*httptest.Server, map[string]string) {
	t.Helper()
	endpoints := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ngrok-urls/", func(w http.ResponseWriter, r *http.Request) {
		var req model.RegisterEndpointRequest
		json.NewDecoder(r.Body).Decode(&req)
		if r.Header.Get("X-API-Key") != req.APIKey {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(model.ErrorResponse{Detail: "forbidden"})
			return
		}
		endpoints[req.APIKey] = req.NgrokURL
		json.NewEncoder(w).Encode(model.StatusResponse{Status: "success", Message: "ok"})
	})
	mux.HandleFunc("GET /ngrok-urls/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		u, ok := endpoints[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(model.ErrorResponse{Detail: "No ngrok URL found for API key " + key})
			return
		}
		json.NewEncoder(w).Encode(model.EndpointResponse{APIKey: key, NgrokURL: u})
	})
	mux.HandleFunc("GET /files/structure", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{".":{"files":["a.go"],"directories":[]}}`))
	})
	mux.HandleFunc("POST /files/content", func(w http.ResponseWriter, r *http.Request) {
		var req model.FileContentRequest
		json.NewDecoder(r.Body).Decode(&req)
		out := map[string]map[string]string{}
		for _, p := range req.FilePaths {
			out[p] = map[string]string{"content": "x"}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("POST /api-keys/generate", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.GenerateKeyResponse{APIKey: "cq_new", RateLimit: 60})
	})
	mux.HandleFunc("DELETE /api-keys/{key}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(model.PurgeResponse{Message: "API key purged", TotalRequests: 3})
	})
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain failure", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, endpoints
}

func TestRegisterAndReadEndpoint(t *testing.T) {
	srv, endpoints := fakeGateway(t)
	c := New(srv.URL+"/", "cq_k")
	ctx := context.Background()

	require.NoError(t, c.RegisterEndpoint(ctx, "cq_k", "https://x.ngrok-free.app"))
	assert.Equal(t, "https://x.ngrok-free.app", endpoints["cq_k"])

	u, err := c.Endpoint(ctx, "cq_k")
	require.NoError(t, err)
	assert.Equal(t, "https://x.ngrok-free.app", u)
}

func TestEndpointNotFound(t *testing.T) {
	srv, _ := fakeGateway(t)
	c := New(srv.URL, "cq_k")

	_, err := c.Endpoint(context.Background(), "cq_k")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "No ngrok URL found for API key cq_k", apiErr.Detail)
}

func TestRegisterForbidden(t *testing.T) {
	srv, _ := fakeGateway(t)
	c := New(srv.URL, "cq_a")
	err := c.RegisterEndpoint(context.Background(), "cq_b", "https://x")
	assert.True(t, IsStatus(err, http.StatusForbidden))
}

func TestFiles(t *testing.T) {
	srv, _ := fakeGateway(t)
	c := New(srv.URL, "cq_k")
	ctx := context.Background()

	structure, err := c.FileStructure(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{".":{"files":["a.go"],"directories":[]}}`, string(structure))

	content, err := c.FileContent(ctx, []string{"a.go"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a.go":{"content":"x"}}`, string(content))
}

func TestGenerateAndPurge(t *testing.T) {
	srv, _ := fakeGateway(t)
	c := New(srv.URL, "")
	ctx := context.Background()

	gen, err := c.Generate(ctx, model.GenerateKeyRequest{})
	require.NoError(t, err)
	assert.Equal(t, "cq_new", gen.APIKey)

	receipt, err := New(srv.URL, gen.APIKey).Purge(ctx, gen.APIKey)
	require.NoError(t, err)
	assert.EqualValues(t, 3, receipt.TotalRequests)
}

func TestHealthAndPlainErrors(t *testing.T) {
	srv, _ := fakeGateway(t)
	c := New(srv.URL, "")
	require.NoError(t, c.Health(context.Background()))

	err := c.do(context.Background(), http.MethodGet, "/broken", nil, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "plain failure", apiErr.Detail)
}

func TestCustomHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Gateway-Key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "cq_k", WithHeader("X-Gateway-Key"))
	require.NoError(t, c.Health(context.Background()))
	assert.Equal(t, "cq_k", got)
}

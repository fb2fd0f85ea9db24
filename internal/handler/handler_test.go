package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codequerydev/codequery/internal/forward"
	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/server/middleware"
	"github.com/codequerydev/codequery/internal/service"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeKeys struct {
	lastOpts  service.GenerateOptions
	genErr    error
	purgeErr  error
	purged    string
	endpoints map[string]string
	regErr    error
}

func (f *fakeKeys) Generate(_ context.Context, opts service.GenerateOptions) (*service.GeneratedKey, error) {
	f.lastOpts = opts
	if f.genErr != nil {
		return nil, f.genErr
	}
	rpm := 60
	if opts.RequestsPerMinute != nil {
		rpm = *opts.RequestsPerMinute
	}
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return &service.GeneratedKey{Key: "cq_" + strings.Repeat("ab", 32), KeyPrefix: "cq_abababababab", ExpiresAt: &exp, RequestsPerMinute: rpm}, nil
}

func (f *fakeKeys) Purge(_ context.Context, target string, requester *service.Principal) (*service.PurgeReceipt, error) {
	if f.purgeErr != nil {
		return nil, f.purgeErr
	}
	f.purged = target
	return &service.PurgeReceipt{KeyPrefix: service.KeyPrefix(target), TotalRequests: 7}, nil
}

func (f *fakeKeys) RegisterEndpoint(_ context.Context, rawKey, publicURL string, requester *service.Principal) error {
	if f.regErr != nil {
		return f.regErr
	}
	if f.endpoints == nil {
		f.endpoints = map[string]string{}
	}
	f.endpoints[rawKey] = publicURL
	return nil
}

func (f *fakeKeys) Endpoint(_ context.Context, rawKey string, requester *service.Principal) (string, error) {
	u, ok := f.endpoints[rawKey]
	if !ok {
		return "", service.ErrNoEndpoint
	}
	return u, nil
}

type fakeForwarder struct {
	endpoint string
	op       forward.Op
	body     string
}

func (f *fakeForwarder) Forward(_ context.Context, w http.ResponseWriter, r *http.Request, endpoint string, op forward.Op) {
	f.endpoint = endpoint
	f.op = op
	b, _ := io.ReadAll(r.Body)
	f.body = string(b)
	writeJSON(w, http.StatusOK, map[string]any{})
}

// ---------------------------------------------------------------------------
// Test environment
// ---------------------------------------------------------------------------

type testEnv struct {
	keys   *fakeKeys
	fwd    *fakeForwarder
	router chi.Router
}

// withCaller stands in for the admission middleware.
func withCaller(p *service.Principal, endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.PrincipalKey, p)
			if endpoint != "" {
				ctx = context.WithValue(ctx, middleware.EndpointKey, endpoint)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestEnv(t *testing.T, endpoint string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	keys := &fakeKeys{}
	fwd := &fakeForwarder{}

	files := NewFilesHandler(fwd)
	keysH := NewKeysHandler(keys, logger)
	eps := NewEndpointsHandler(keys, logger)

	r := chi.NewRouter()
	r.Get("/", Health)
	r.Post("/api-keys/generate", keysH.Generate)
	r.Group(func(r chi.Router) {
		r.Use(withCaller(&service.Principal{Hash: "h", KeyPrefix: "cq_caller", Admin: true}, endpoint))
		r.Get("/files/structure", files.Structure)
		r.Post("/files/content", files.Content)
		r.Delete("/api-keys/{key}", keysH.Purge)
		r.Post("/ngrok-urls/", eps.Register)
		r.Get("/ngrok-urls/{api_key}", eps.Get)
	})
	return &testEnv{keys: keys, fwd: fwd, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertDetail(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body model.ErrorResponse
	decodeJSON(t, rr, &body)
	if body.Detail != want {
		t.Errorf("detail = %q, want %q", body.Detail, want)
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "GET", "/", nil)
	assertStatus(t, rr, http.StatusOK)

	var body model.MessageResponse
	decodeJSON(t, rr, &body)
	if body.Message != HealthMessage {
		t.Errorf("message = %q", body.Message)
	}
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReady(t *testing.T) {
	ok := Ready(pingerFunc(func(context.Context) error { return nil }), time.Second)
	rr := httptest.NewRecorder()
	ok(rr, httptest.NewRequest("GET", "/readyz", nil))
	assertStatus(t, rr, http.StatusOK)

	down := Ready(pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }), time.Second)
	rr = httptest.NewRecorder()
	down(rr, httptest.NewRequest("GET", "/readyz", nil))
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func TestFileStructureForwards(t *testing.T) {
	env := newTestEnv(t, "https://tunnel.example")
	rr := env.do(t, "GET", "/files/structure", nil)
	assertStatus(t, rr, http.StatusOK)
	if env.fwd.endpoint != "https://tunnel.example" || env.fwd.op != forward.OpFileStructure {
		t.Errorf("forwarded to %q op %+v", env.fwd.endpoint, env.fwd.op)
	}
}

func TestFileContentForwardsBody(t *testing.T) {
	env := newTestEnv(t, "https://tunnel.example")
	rr := env.do(t, "POST", "/files/content", strings.NewReader(`{"file_paths":["a.go","b.go"]}`))
	assertStatus(t, rr, http.StatusOK)
	if env.fwd.body != `{"file_paths":["a.go","b.go"]}` {
		t.Errorf("forwarded body = %q", env.fwd.body)
	}
}

func TestFileContentRequiresPaths(t *testing.T) {
	env := newTestEnv(t, "https://tunnel.example")
	for _, body := range []string{`{}`, `{"file_paths":[]}`} {
		rr := env.do(t, "POST", "/files/content", strings.NewReader(body))
		assertStatus(t, rr, http.StatusBadRequest)
		assertDetail(t, rr, "No file paths provided")
	}
	if env.fwd.endpoint != "" {
		t.Error("invalid request was forwarded")
	}
}

func TestFileContentInvalidJSON(t *testing.T) {
	env := newTestEnv(t, "https://tunnel.example")
	rr := env.do(t, "POST", "/files/content", strings.NewReader(`{not json`))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestFilesWithoutEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "GET", "/files/structure", nil)
	assertStatus(t, rr, http.StatusInternalServerError)
	assertDetail(t, rr, "Service temporarily unavailable")
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

func TestGenerateWithoutBody(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/api-keys/generate", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.GenerateKeyResponse
	decodeJSON(t, rr, &resp)
	if len(resp.APIKey) != 67 || resp.RateLimit != 60 || resp.ExpiresAt == nil || resp.Message == "" {
		t.Errorf("response = %+v", resp)
	}
	if env.keys.lastOpts.ExpirationDays != nil || env.keys.lastOpts.RequestsPerMinute != nil {
		t.Errorf("options = %+v, want defaults", env.keys.lastOpts)
	}
}

func TestGenerateWithOptions(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/api-keys/generate", toJSON(t, map[string]int{"expiration_days": 0, "requests_per_minute": 5}))
	assertStatus(t, rr, http.StatusOK)

	opts := env.keys.lastOpts
	if opts.ExpirationDays == nil || *opts.ExpirationDays != 0 {
		t.Errorf("expiration_days = %v, want explicit 0", opts.ExpirationDays)
	}
	if opts.RequestsPerMinute == nil || *opts.RequestsPerMinute != 5 {
		t.Errorf("requests_per_minute = %v, want 5", opts.RequestsPerMinute)
	}
}

func TestGenerateInvalidOptions(t *testing.T) {
	env := newTestEnv(t, "")
	env.keys.genErr = service.ErrInvalidOptions
	rr := env.do(t, "POST", "/api-keys/generate", toJSON(t, map[string]int{"requests_per_minute": -1}))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestPurgeReceipt(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "DELETE", "/api-keys/cq_target0000000000", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp model.PurgeResponse
	decodeJSON(t, rr, &resp)
	if resp.TotalRequests != 7 || resp.KeyPrefix != "cq_target000000" {
		t.Errorf("receipt = %+v", resp)
	}
	if env.keys.purged != "cq_target0000000000" {
		t.Errorf("purged %q", env.keys.purged)
	}
}

func TestPurgeErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrNotAuthorized, http.StatusUnauthorized},
		{service.ErrAdminProtected, http.StatusForbidden},
		{service.ErrKeyNotFound, http.StatusNotFound},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, "")
			env.keys.purgeErr = tt.err
			rr := env.do(t, "DELETE", "/api-keys/cq_x", nil)
			assertStatus(t, rr, tt.status)
		})
	}
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

func TestRegisterAndGetEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "POST", "/ngrok-urls/", toJSON(t, model.RegisterEndpointRequest{APIKey: "k", NgrokURL: "https://x"}))
	assertStatus(t, rr, http.StatusOK)

	var status model.StatusResponse
	decodeJSON(t, rr, &status)
	if status.Status != "success" || status.Message != "ngrok URL updated for API key k" {
		t.Errorf("status = %+v", status)
	}

	rr = env.do(t, "GET", "/ngrok-urls/k", nil)
	assertStatus(t, rr, http.StatusOK)
	var ep model.EndpointResponse
	decodeJSON(t, rr, &ep)
	if ep != (model.EndpointResponse{APIKey: "k", NgrokURL: "https://x"}) {
		t.Errorf("endpoint = %+v", ep)
	}
}

func TestRegisterEndpointMissingFields(t *testing.T) {
	env := newTestEnv(t, "")
	for _, req := range []model.RegisterEndpointRequest{{APIKey: "k"}, {NgrokURL: "https://x"}, {}} {
		rr := env.do(t, "POST", "/ngrok-urls/", toJSON(t, req))
		assertStatus(t, rr, http.StatusBadRequest)
		assertDetail(t, rr, "api_key and ngrok_url are required")
	}
}

func TestRegisterEndpointErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{service.ErrForbidden, http.StatusForbidden},
		{service.ErrKeyNotFound, http.StatusNotFound},
		{service.ErrInvalidEndpoint, http.StatusBadRequest},
	}
	for _, tt := range tests {
		env := newTestEnv(t, "")
		env.keys.regErr = tt.err
		rr := env.do(t, "POST", "/ngrok-urls/", toJSON(t, model.RegisterEndpointRequest{APIKey: "k", NgrokURL: "https://x"}))
		assertStatus(t, rr, tt.status)
	}
}

func TestGetEndpointNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	rr := env.do(t, "GET", "/ngrok-urls/cq_missing", nil)
	assertStatus(t, rr, http.StatusNotFound)
	assertDetail(t, rr, "No ngrok URL found for API key cq_missing")
}

func TestReadOptionalJSON(t *testing.T) {
	var v model.GenerateKeyRequest
	if err := readOptionalJSON(httptest.NewRequest("POST", "/", strings.NewReader("")), &v); err != nil {
		t.Errorf("empty body: %v", err)
	}
	if err := readOptionalJSON(httptest.NewRequest("POST", "/", strings.NewReader("{bad")), &v); err == nil {
		t.Error("expected error for malformed body")
	}
}

package forward

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/model"
)

func detailOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body model.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return body.Detail
}

func assertScraped(t *testing.T, m *metrics.Metrics, line string) {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rr.Body.String(), line) {
		t.Errorf("metrics missing %q", line)
	}
}

func TestForwardRelaysSuccess(t *testing.T) {
	var gotKey, gotPath, gotQuery, gotBody, gotCT string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotCT = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"src/main.go":{"content":"package main"}}`))
	}))
	defer backend.Close()

	m := metrics.New()
	f := New(Config{StripHeader: "X-API-Key", Metrics: m})

	req := httptest.NewRequest("POST", "/files/content?depth=2", strings.NewReader(`{"file_paths":["src/main.go"]}`))
	req.Header.Set("X-API-Key", "cq_secret")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, backend.URL+"/", OpFileContent)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != `{"src/main.go":{"content":"package main"}}` {
		t.Errorf("body = %s", rr.Body.String())
	}
	if gotKey != "" {
		t.Errorf("api key leaked to backend: %q", gotKey)
	}
	if gotPath != "/files/content" || gotQuery != "depth=2" {
		t.Errorf("path = %q query = %q", gotPath, gotQuery)
	}
	if gotBody != `{"file_paths":["src/main.go"]}` || gotCT != "application/json" {
		t.Errorf("body = %q content-type = %q", gotBody, gotCT)
	}
	assertScraped(t, m, `codequery_forward_requests_total{op="file_content",outcome="ok"} 1`)
}

func TestForwardRelaysNon2xxVerbatim(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"None of the requested files were found"}`))
	}))
	defer backend.Close()

	f := New(Config{})
	req := httptest.NewRequest("POST", "/files/content", strings.NewReader(`{"file_paths":["x"]}`))
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, backend.URL, OpFileContent)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	if got := detailOf(t, rr); got != "None of the requested files were found" {
		t.Errorf("detail = %q", got)
	}
}

func TestForwardNon2xxNotRequiredToBeJSON(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer backend.Close()

	f := New(Config{})
	req := httptest.NewRequest("GET", "/files/structure", nil)
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, backend.URL, OpFileStructure)

	if rr.Code != http.StatusBadGateway || !strings.Contains(rr.Body.String(), "bad gateway") {
		t.Errorf("status = %d body = %q", rr.Code, rr.Body.String())
	}
}

func TestForwardMalformedBody(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer backend.Close()

	m := metrics.New()
	f := New(Config{Metrics: m})
	req := httptest.NewRequest("GET", "/files/structure", nil)
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, backend.URL, OpFileStructure)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := detailOf(t, rr); got != "Error retrieving file structure: malformed response from backend" {
		t.Errorf("detail = %q", got)
	}
	assertScraped(t, m, `codequery_forward_requests_total{op="file_structure",outcome="malformed"} 1`)
}

func TestForwardTransportFailure(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	f := New(Config{})
	req := httptest.NewRequest("GET", "/files/structure", nil)
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, url, OpFileStructure)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if got := detailOf(t, rr); !strings.HasPrefix(got, "Error retrieving file structure: ") {
		t.Errorf("detail = %q", got)
	}
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer backend.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	req := httptest.NewRequest("GET", "/files/structure", nil)
	rr := httptest.NewRecorder()
	start := time.Now()
	f.Forward(req.Context(), rr, req, backend.URL, OpFileStructure)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestForwardIgnoresInboundCancellation(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{})
	req := httptest.NewRequest("GET", "/files/structure", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	f.Forward(ctx, rr, req, backend.URL, OpFileStructure)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestForwardResponseTooLarge(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"a":"` + strings.Repeat("x", 100) + `"}`))
	}))
	defer backend.Close()

	f := New(Config{MaxResponseSize: 16})
	req := httptest.NewRequest("GET", "/files/structure", nil)
	rr := httptest.NewRecorder()
	f.Forward(req.Context(), rr, req, backend.URL, OpFileStructure)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

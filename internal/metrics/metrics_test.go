package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Admission("admitted")
	m.Admission("admitted")
	m.Admission("rate_limited")
	m.CacheHit()
	m.CacheMiss()
	m.Forward("structure", "ok", 0.01)

	if got := testutil.ToFloat64(m.admissions.WithLabelValues("admitted")); got != 2 {
		t.Errorf("admitted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.forwards.WithLabelValues("structure", "ok")); got != 1 {
		t.Errorf("forwards = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Admission("admitted")
	m.CacheHit()
	m.CacheMiss()
	m.Forward("content", "ok", 1)
	m.Registration("ok")
	m.KeyOperation("generate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.KeyOperation("generate")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `codequery_key_operations_total{op="generate"} 1`) {
		t.Errorf("metrics output missing key counter:\n%s", body)
	}
}

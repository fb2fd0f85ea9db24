package openapi

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestGatewaySpecPaths(t *testing.T) {
	doc := GenerateGatewaySpec("https://gateway.example", "X-API-Key")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi = %q", doc.OpenAPI)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://gateway.example" {
		t.Errorf("servers = %+v", doc.Servers)
	}

	tests := []struct {
		path   string
		method string
	}{
		{"/", "GET"},
		{"/files/structure", "GET"},
		{"/files/content", "POST"},
		{"/api-keys/generate", "POST"},
		{"/api-keys/{key}", "DELETE"},
		{"/ngrok-urls/", "POST"},
		{"/ngrok-urls/{api_key}", "GET"},
	}
	for _, tt := range tests {
		item := doc.Paths.Find(tt.path)
		if item == nil {
			t.Errorf("missing path %s", tt.path)
			continue
		}
		if item.GetOperation(tt.method) == nil {
			t.Errorf("missing %s %s", tt.method, tt.path)
		}
	}
}

func TestGatewaySpecSecurity(t *testing.T) {
	doc := GenerateGatewaySpec("", "X-Custom-Key")

	scheme := doc.Components.SecuritySchemes["apiKey"]
	if scheme == nil || scheme.Value.Name != "X-Custom-Key" || scheme.Value.In != "header" {
		t.Fatalf("security scheme = %+v", scheme)
	}
	if len(doc.Servers) != 0 {
		t.Errorf("servers = %+v, want none", doc.Servers)
	}

	// Health and key generation are open; the file routes inherit the
	// document-level requirement.
	for _, path := range []string{"/", "/api-keys/generate"} {
		item := doc.Paths.Find(path)
		for _, op := range item.Operations() {
			if op.Security == nil || len(*op.Security) != 0 {
				t.Errorf("%s should not require a key", path)
			}
		}
	}
	if op := doc.Paths.Find("/files/structure").Get; op.Security != nil {
		t.Error("/files/structure should use the document security")
	}
}

func TestGatewaySpecResponses(t *testing.T) {
	doc := GenerateGatewaySpec("", "X-API-Key")

	op := doc.Paths.Find("/files/structure").Get
	for _, code := range []string{"200", "401", "429", "500"} {
		if op.Responses.Value(code) == nil {
			t.Errorf("/files/structure missing %s response", code)
		}
	}

	purge := doc.Paths.Find("/api-keys/{key}").Delete
	for _, code := range []string{"403", "404"} {
		if purge.Responses.Value(code) == nil {
			t.Errorf("purge missing %s response", code)
		}
	}
}

func TestGatewaySpecMarshals(t *testing.T) {
	doc := GenerateGatewaySpec("http://localhost:8000", "X-API-Key")
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	for _, want := range []string{`"RateLimitResponse"`, `"reset_at"`, `"file_paths"`, `"ngrok_url"`} {
		if !strings.Contains(out, want) {
			t.Errorf("document JSON missing %s", want)
		}
	}
}

package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/service"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		detail string
	}{
		{service.ErrMissingKey, 401, MsgMissingKey},
		{service.ErrInvalidKey, 401, MsgInvalidKey},
		{service.ErrKeyExpired, 401, MsgKeyExpired},
		{service.ErrNotAuthorized, 401, MsgNotAuthorized},
		{service.ErrAdminProtected, 403, MsgAdminProtected},
		{service.ErrForbidden, 403, MsgForbidden},
		{service.ErrKeyNotFound, 404, MsgKeyNotFound},
		{fmt.Errorf("wrapped: %w", service.ErrInvalidKey), 401, MsgInvalidKey},
		{errors.New("disk on fire"), 500, MsgInternal},
		{&service.RateLimitError{Limit: 1}, 429, MsgRateLimited},
	}
	for _, tt := range tests {
		status, detail := Classify(tt.err)
		if status != tt.status || detail != tt.detail {
			t.Errorf("Classify(%v) = %d %q, want %d %q", tt.err, status, detail, tt.status, tt.detail)
		}
	}
}

func TestServiceErrorHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/files/structure", nil)
	ServiceError(rec, req, nil, "req-1", errors.New("open /secret/path: permission denied"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body model.ErrorResponse
	json.NewDecoder(rec.Body).Decode(&body)
	if body.Detail != MsgInternal {
		t.Errorf("detail = %q, want %q", body.Detail, MsgInternal)
	}
}

func TestRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/files/structure", nil)
	reset := time.Now().Add(30 * time.Second).UTC().Truncate(time.Second)
	ServiceError(rec, req, nil, "", &service.RateLimitError{Limit: 5, ResetAt: reset})

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	var body model.RateLimitResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Limit != 5 || body.ResetAt != reset.Format(time.RFC3339) {
		t.Errorf("body = %+v", body)
	}
}

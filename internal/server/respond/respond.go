// Package respond writes JSON responses and maps service errors to HTTP
// statuses. It is shared by middleware and handlers.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/service"
)

// Client-visible messages.
const (
	MsgMissingKey       = "Missing API Key"
	MsgInvalidKey       = "Invalid API Key"
	MsgKeyExpired       = "API Key has expired"
	MsgRateLimited      = "Rate limit exceeded"
	MsgInternal         = "Internal server error"
	MsgUnavailable      = "Service temporarily unavailable"
	MsgNotAuthorized    = "Not authorized to purge this API key"
	MsgAdminProtected   = "The admin API key cannot be purged"
	MsgForbidden        = "Not authorized to manage the endpoint of this API key"
	MsgKeyNotFound      = "API key not found"
	MsgEndpointRequired = "api_key and ngrok_url are required"
)

// JSON serializes v as JSON and writes it with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Error writes the standard {"detail": ...} envelope.
func Error(w http.ResponseWriter, status int, detail string) {
	JSON(w, status, model.ErrorResponse{Detail: detail})
}

// ServiceError maps err to a status and writes it. Unrecognized errors are
// logged with the request ID and reported as a generic 500.
func ServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, requestID string, err error) {
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		RateLimited(w, rle)
		return
	}

	status, detail := Classify(err)
	if status == http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"error", err,
		)
	}
	Error(w, status, detail)
}

// Classify returns the status and client-visible detail for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrMissingKey):
		return http.StatusUnauthorized, MsgMissingKey
	case errors.Is(err, service.ErrInvalidKey):
		return http.StatusUnauthorized, MsgInvalidKey
	case errors.Is(err, service.ErrKeyExpired):
		return http.StatusUnauthorized, MsgKeyExpired
	case errors.Is(err, service.ErrNotAuthorized):
		return http.StatusUnauthorized, MsgNotAuthorized
	case errors.Is(err, service.ErrAdminProtected):
		return http.StatusForbidden, MsgAdminProtected
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, MsgForbidden
	case errors.Is(err, service.ErrKeyNotFound):
		return http.StatusNotFound, MsgKeyNotFound
	case errors.Is(err, service.ErrInvalidOptions), errors.Is(err, service.ErrInvalidEndpoint):
		return http.StatusBadRequest, err.Error()
	}
	var rle *service.RateLimitError
	if errors.As(err, &rle) {
		return http.StatusTooManyRequests, MsgRateLimited
	}
	return http.StatusInternalServerError, MsgInternal
}

// RateLimited writes a 429 with the limit, the next window boundary and a
// Retry-After header.
func RateLimited(w http.ResponseWriter, rle *service.RateLimitError) {
	wait := time.Until(rle.ResetAt).Seconds()
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait)))))
	JSON(w, http.StatusTooManyRequests, model.RateLimitResponse{
		Detail:  MsgRateLimited,
		Limit:   rle.Limit,
		ResetAt: rle.ResetAt.UTC().Format(time.RFC3339),
	})
}

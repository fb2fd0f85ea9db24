package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/server/middleware"
	"github.com/codequerydev/codequery/internal/server/respond"
	"github.com/codequerydev/codequery/internal/service"
)

const (
	msgGenerated = "Store this API key securely. It cannot be retrieved again."
	msgPurged    = "API key purged"
)

// KeyManager generates and purges keys.
type KeyManager interface {
	Generate(ctx context.Context, opts service.GenerateOptions) (*service.GeneratedKey, error)
	Purge(ctx context.Context, target string, requester *service.Principal) (*service.PurgeReceipt, error)
}

// KeysHandler serves the key lifecycle routes.
type KeysHandler struct {
	keys   KeyManager
	logger *slog.Logger
}

// NewKeysHandler creates a KeysHandler.
func NewKeysHandler(keys KeyManager, logger *slog.Logger) *KeysHandler {
	return &KeysHandler{keys: keys, logger: logger}
}

// Generate issues a new key. The body is optional.
// POST /api-keys/generate
func (h *KeysHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req model.GenerateKeyRequest
	if err := readOptionalJSON(r, &req); err != nil {
		invalidBody(w, err)
		return
	}

	key, err := h.keys.Generate(r.Context(), service.GenerateOptions{
		ExpirationDays:    req.ExpirationDays,
		RequestsPerMinute: req.RequestsPerMinute,
	})
	if err != nil {
		respond.ServiceError(w, r, h.logger, middleware.GetRequestID(r.Context()), err)
		return
	}

	writeJSON(w, http.StatusOK, model.GenerateKeyResponse{
		APIKey:    key.Key,
		ExpiresAt: key.ExpiresAt,
		RateLimit: key.RequestsPerMinute,
		Message:   msgGenerated,
	})
}

// Purge deletes a key. The caller must be the key itself or the admin.
// DELETE /api-keys/{key}
func (h *KeysHandler) Purge(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "key")
	receipt, err := h.keys.Purge(r.Context(), target, middleware.GetPrincipal(r.Context()))
	if err != nil {
		respond.ServiceError(w, r, h.logger, middleware.GetRequestID(r.Context()), err)
		return
	}

	writeJSON(w, http.StatusOK, model.PurgeResponse{
		Message:       msgPurged,
		KeyPrefix:     receipt.KeyPrefix,
		TotalRequests: receipt.TotalRequests,
		CreatedAt:     receipt.CreatedAt,
		LastUsed:      receipt.LastUsed,
	})
}

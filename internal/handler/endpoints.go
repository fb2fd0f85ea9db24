package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/server/middleware"
	"github.com/codequerydev/codequery/internal/server/respond"
	"github.com/codequerydev/codequery/internal/service"
)

// EndpointRegistry records and reports the endpoint registered for a key.
type EndpointRegistry interface {
	RegisterEndpoint(ctx context.Context, rawKey, publicURL string, requester *service.Principal) error
	Endpoint(ctx context.Context, rawKey string, requester *service.Principal) (string, error)
}

// EndpointsHandler serves the routes the registration agent talks to.
type EndpointsHandler struct {
	registry EndpointRegistry
	logger   *slog.Logger
}

// NewEndpointsHandler creates an EndpointsHandler.
func NewEndpointsHandler(registry EndpointRegistry, logger *slog.Logger) *EndpointsHandler {
	return &EndpointsHandler{registry: registry, logger: logger}
}

// Register stores the caller's current tunnel URL.
// POST /ngrok-urls/
func (h *EndpointsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterEndpointRequest
	if err := readJSON(r, &req); err != nil {
		invalidBody(w, err)
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	req.NgrokURL = strings.TrimSpace(req.NgrokURL)
	if req.APIKey == "" || req.NgrokURL == "" {
		writeError(w, http.StatusBadRequest, respond.MsgEndpointRequired)
		return
	}

	err := h.registry.RegisterEndpoint(r.Context(), req.APIKey, req.NgrokURL, middleware.GetPrincipal(r.Context()))
	if err != nil {
		respond.ServiceError(w, r, h.logger, middleware.GetRequestID(r.Context()), err)
		return
	}

	writeJSON(w, http.StatusOK, model.StatusResponse{
		Status:  "success",
		Message: "ngrok URL updated for API key " + service.KeyPrefix(req.APIKey),
	})
}

// Get returns the endpoint registered for a key.
// GET /ngrok-urls/{api_key}
func (h *EndpointsHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "api_key")
	u, err := h.registry.Endpoint(r.Context(), key, middleware.GetPrincipal(r.Context()))
	if errors.Is(err, service.ErrNoEndpoint) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No ngrok URL found for API key %s", service.KeyPrefix(key)))
		return
	}
	if err != nil {
		respond.ServiceError(w, r, h.logger, middleware.GetRequestID(r.Context()), err)
		return
	}
	writeJSON(w, http.StatusOK, model.EndpointResponse{APIKey: key, NgrokURL: u})
}

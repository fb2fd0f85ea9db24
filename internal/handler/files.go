package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/codequerydev/codequery/internal/forward"
	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/server/middleware"
	"github.com/codequerydev/codequery/internal/server/respond"
)

// Forwarder relays a request to a resolved endpoint.
type Forwarder interface {
	Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string, op forward.Op)
}

// FilesHandler proxies the file routes to the caller's registered endpoint.
// It expects Admission to have resolved the endpoint.
type FilesHandler struct {
	fwd Forwarder
}

// NewFilesHandler creates a FilesHandler.
func NewFilesHandler(fwd Forwarder) *FilesHandler {
	return &FilesHandler{fwd: fwd}
}

// Structure proxies the directory listing.
// GET /files/structure
func (h *FilesHandler) Structure(w http.ResponseWriter, r *http.Request) {
	h.relay(w, r, forward.OpFileStructure)
}

// Content proxies a file content request after checking that it names at
// least one path.
// POST /files/content
func (h *FilesHandler) Content(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		invalidBody(w, err)
		return
	}
	var req model.FileContentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		invalidBody(w, err)
		return
	}
	if len(req.FilePaths) == 0 {
		writeError(w, http.StatusBadRequest, "No file paths provided")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	h.relay(w, r, forward.OpFileContent)
}

func (h *FilesHandler) relay(w http.ResponseWriter, r *http.Request, op forward.Op) {
	middleware.SetOperation(r.Context(), op.Name)
	endpoint := middleware.GetEndpoint(r.Context())
	if endpoint == "" {
		writeError(w, http.StatusInternalServerError, respond.MsgUnavailable)
		return
	}
	h.fwd.Forward(r.Context(), w, r, endpoint, op)
}

// Package forward relays admitted requests to the endpoint registered for
// the caller's key.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/server/respond"
)

const (
	// DefaultTimeout bounds each relayed request.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxResponseSize caps the backend body held in memory.
	DefaultMaxResponseSize = 32 << 20
)

// ErrMalformedUpstream reports a successful backend response whose body is
// not valid JSON.
var ErrMalformedUpstream = errors.New("malformed response from backend")

// Op names a relayed operation and the prefix used in its error details.
type Op struct {
	Name   string
	Detail string
}

var (
	OpFileStructure = Op{Name: "file_structure", Detail: "Error retrieving file structure"}
	OpFileContent   = Op{Name: "file_content", Detail: "Error retrieving file content"}
)

// Config configures a Forwarder.
type Config struct {
	Timeout         time.Duration
	MaxResponseSize int64
	// StripHeader is removed from relayed requests. It carries the caller's
	// API key, which the backend must never see.
	StripHeader string
	Transport   http.RoundTripper
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Forwarder reissues requests against registered endpoints.
type Forwarder struct {
	client      *http.Client
	timeout     time.Duration
	maxSize     int64
	stripHeader string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates a Forwarder. Zero values in cfg take the package defaults.
func New(cfg Config) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Forwarder{
		client:      &http.Client{Transport: cfg.Transport, Timeout: cfg.Timeout},
		timeout:     cfg.Timeout,
		maxSize:     cfg.MaxResponseSize,
		stripHeader: cfg.StripHeader,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Forward sends r to endpoint and writes the outcome to w. Backend
// responses, successful or not, are relayed verbatim. Transport failures
// and malformed success bodies become a 500 whose detail names op.
//
// The outbound call is detached from the inbound request's cancellation:
// once issued it runs until it completes or the timeout fires.
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, endpoint string, op Op) {
	start := time.Now()
	status, body, header, err := f.do(ctx, r, endpoint)
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil:
		f.metrics.Forward(op.Name, "transport_error", elapsed)
		f.logger.Warn("forward failed", "op", op.Name, "error", err)
		respond.Error(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", op.Detail, err))
		return
	case status >= 200 && status < 300 && !json.Valid(body):
		f.metrics.Forward(op.Name, "malformed", elapsed)
		f.logger.Warn("backend returned malformed body", "op", op.Name, "status", status, "bytes", len(body))
		respond.Error(w, http.StatusInternalServerError, fmt.Sprintf("%s: %v", op.Detail, ErrMalformedUpstream))
		return
	case status >= 200 && status < 300:
		f.metrics.Forward(op.Name, "ok", elapsed)
	default:
		f.metrics.Forward(op.Name, "upstream_status", elapsed)
	}

	if ct := header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(status)
	w.Write(body)
}

func (f *Forwarder) do(ctx context.Context, r *http.Request, endpoint string) (int, []byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	var reqBody io.Reader
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("reading request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	target := strings.TrimRight(endpoint, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, target, reqBody)
	if err != nil {
		return 0, nil, nil, err
	}
	for _, h := range []string{"Content-Type", "Accept", "X-Request-ID"} {
		if v := r.Header.Get(h); v != "" {
			out.Header.Set(h, v)
		}
	}
	if f.stripHeader != "" {
		out.Header.Del(f.stripHeader)
	}

	resp, err := f.client.Do(out)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("reading backend response: %w", err)
	}
	if int64(len(body)) > f.maxSize {
		return 0, nil, nil, fmt.Errorf("backend response exceeds %d bytes", f.maxSize)
	}
	return resp.StatusCode, body, resp.Header, nil
}

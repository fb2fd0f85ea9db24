package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type logKey struct{}

// logFields collects attributes that handlers deeper in the chain learn
// about the request, such as the admitted key prefix.
type logFields struct {
	keyPrefix string
	op        string
}

// annotate records the key prefix on the request's access log line.
func annotate(ctx context.Context, keyPrefix string) {
	if f, ok := ctx.Value(logKey{}).(*logFields); ok {
		f.keyPrefix = keyPrefix
	}
}

// SetOperation labels the access log line with a gateway operation name.
func SetOperation(ctx context.Context, op string) {
	if f, ok := ctx.Value(logKey{}).(*logFields); ok {
		f.op = op
	}
}

// Logger returns an HTTP middleware that writes one access log line per
// request. The API key itself is never logged; only its prefix is, once
// admission has identified it.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			fields := &logFields{}
			r = r.WithContext(context.WithValue(r.Context(), logKey{}, fields))

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			switch {
			case ww.status >= 500:
				level = slog.LevelError
			case ww.status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.status,
				"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
				"bytes", ww.bytes,
				"request_id", GetRequestID(r.Context()),
				"remote_addr", r.RemoteAddr,
			}
			if fields.keyPrefix != "" {
				attrs = append(attrs, "key_prefix", fields.keyPrefix)
			}
			if fields.op != "" {
				attrs = append(attrs, "op", fields.op)
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// responseWriter captures the status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

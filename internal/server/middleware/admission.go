package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/codequerydev/codequery/internal/cache"
	"github.com/codequerydev/codequery/internal/server/respond"
	"github.com/codequerydev/codequery/internal/service"
)

type contextKeyAuth string

const (
	// PrincipalKey is the context key for the admitted principal.
	PrincipalKey contextKeyAuth = "principal"
	// EndpointKey is the context key for the resolved forwarding target.
	EndpointKey contextKeyAuth = "endpoint"
)

// Keys admits or authenticates raw API keys.
type Keys interface {
	Admit(ctx context.Context, rawKey string) (*service.Principal, error)
	Authenticate(ctx context.Context, rawKey string) (*service.Principal, error)
}

// Resolver turns a key hash into its registered endpoint.
type Resolver interface {
	Resolve(ctx context.Context, hash string) (string, error)
}

// Admission returns middleware that runs the full per-request gate: the key
// must be present, known and unexpired, and have budget left in its window.
// The request is counted, and when resolver is non-nil the key's endpoint
// is resolved and attached to the context for forwarding.
//
// Routes that must bypass the gate (health, key generation) are mounted
// outside of it.
func Admission(keys Keys, resolver Resolver, header string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			p, err := keys.Admit(ctx, r.Header.Get(header))
			if err != nil {
				respond.ServiceError(w, r, logger, GetRequestID(ctx), err)
				return
			}
			annotate(ctx, p.KeyPrefix)
			ctx = context.WithValue(ctx, PrincipalKey, p)

			if resolver != nil {
				endpoint, err := resolver.Resolve(ctx, p.Hash)
				if err != nil {
					if !errors.Is(err, cache.ErrNotFound) {
						logger.Error("endpoint resolution failed",
							"key_prefix", p.KeyPrefix,
							"request_id", GetRequestID(ctx),
							"error", err,
						)
					}
					respond.Error(w, http.StatusInternalServerError, respond.MsgUnavailable)
					return
				}
				ctx = context.WithValue(ctx, EndpointKey, endpoint)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate returns middleware that identifies the caller without
// counting the request against its rate limit.
func Authenticate(keys Keys, header string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := keys.Authenticate(r.Context(), r.Header.Get(header))
			if err != nil {
				respond.ServiceError(w, r, logger, GetRequestID(r.Context()), err)
				return
			}
			annotate(r.Context(), p.KeyPrefix)
			ctx := context.WithValue(r.Context(), PrincipalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the admitted principal from the context.
// Returns nil if no principal is present.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetEndpoint extracts the resolved endpoint from the context.
func GetEndpoint(ctx context.Context) string {
	if e, ok := ctx.Value(EndpointKey).(string); ok {
		return e
	}
	return ""
}

package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/codequerydev/codequery/internal/store"
)

// RegisterEndpoint records publicURL as rawKey's endpoint and invalidates
// the cached resolution so the next admitted request sees it.
func (s *KeyService) RegisterEndpoint(ctx context.Context, rawKey, publicURL string, requester *Principal) error {
	hash := store.HashAPIKey(rawKey)
	if !requester.Owns(hash) {
		return ErrForbidden
	}
	if err := validateEndpoint(publicURL); err != nil {
		return err
	}
	if _, err := s.creds.Get(ctx, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("load key record: %w", err)
	}

	if err := s.endpoints.Set(ctx, hash, publicURL); err != nil {
		return fmt.Errorf("store endpoint: %w", err)
	}
	s.cache.Invalidate(hash)
	s.logger.Info("endpoint registered", "key_prefix", KeyPrefix(rawKey), "url", publicURL)
	return nil
}

// Endpoint returns the stored endpoint of rawKey.
func (s *KeyService) Endpoint(ctx context.Context, rawKey string, requester *Principal) (string, error) {
	hash := store.HashAPIKey(rawKey)
	if !requester.Owns(hash) {
		return "", ErrForbidden
	}
	u, err := s.endpoints.Lookup(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoEndpoint
	}
	if err != nil {
		return "", fmt.Errorf("load endpoint: %w", err)
	}
	return u, nil
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidEndpoint)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/store"
)

// Admit checks that rawKey exists, has not expired and has budget left in
// the current one-minute window, then records the request. The checks and
// the counter update happen in one read-modify-write of the credential
// document; any failure leaves the stored record untouched.
//
// The admin key is admitted without a record and is not rate limited.
func (s *KeyService) Admit(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		s.metrics.Admission("missing_key")
		return nil, ErrMissingKey
	}
	if s.isAdmin(rawKey) {
		s.metrics.Admission("admin")
		return s.AdminPrincipal(), nil
	}

	hash := store.HashAPIKey(rawKey)
	now := s.clock.Now().UTC()
	window := model.WindowOf(now)

	var prefix string
	err := s.creds.Update(ctx, hash, func(rec *model.APIKeyRecord) error {
		if rec.Expired(now) {
			return ErrKeyExpired
		}

		rl := &rec.RateLimit
		count := rl.WindowRequestCount
		if rl.CurrentWindow != window {
			if rl.CurrentWindow != "" {
				if _, err := model.ParseWindow(rl.CurrentWindow); err != nil {
					return fmt.Errorf("%w: window %q: %v", ErrCorruptRecord, rl.CurrentWindow, err)
				}
			}
			count = 0
		}
		if count >= rl.RequestsPerMinute {
			return &RateLimitError{Limit: rl.RequestsPerMinute, ResetAt: model.NextWindow(now)}
		}

		rl.CurrentWindow = window
		rl.WindowRequestCount = count + 1
		rec.TotalRequests++
		rec.LastUsed = &now
		prefix = rec.KeyPrefix
		return nil
	})
	if err != nil {
		s.metrics.Admission(admissionOutcome(err))
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	s.metrics.Admission("admitted")
	return &Principal{Hash: hash, KeyPrefix: prefix}, nil
}

// Authenticate identifies rawKey without touching its counters. It is used
// by the endpoint registration routes, which the tunnel agent calls on its
// own schedule.
func (s *KeyService) Authenticate(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ErrMissingKey
	}
	if s.isAdmin(rawKey) {
		return s.AdminPrincipal(), nil
	}
	hash := store.HashAPIKey(rawKey)
	rec, err := s.creds.Get(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.clock.Now()) {
		return nil, ErrKeyExpired
	}
	return &Principal{Hash: hash, KeyPrefix: rec.KeyPrefix}, nil
}

func admissionOutcome(err error) string {
	var rle *RateLimitError
	switch {
	case errors.As(err, &rle):
		return "rate_limited"
	case errors.Is(err, ErrKeyExpired):
		return "expired"
	case errors.Is(err, store.ErrNotFound):
		return "invalid"
	}
	return "error"
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/model"
	"github.com/codequerydev/codequery/internal/store"
)

const (
	keyPrefix    = "cq_"
	keyBytes     = 32 // 256 bits
	prefixLength = len(keyPrefix) + 12
)

// Invalidator drops cached endpoint resolutions.
type Invalidator interface {
	Invalidate(hash string)
}

// Config configures a KeyService.
type Config struct {
	AdminKey                 string
	DefaultRequestsPerMinute int
	DefaultExpirationDays    int // < 0 means never expire
	Clock                    clock.Clock
	Metrics                  *metrics.Metrics
	Logger                   *slog.Logger
}

// KeyService owns key generation, purge, admission and endpoint
// registration. All writes go through the credential and endpoint stores;
// every endpoint write invalidates the resolution cache.
type KeyService struct {
	creds     *store.CredentialStore
	endpoints *store.EndpointStore
	cache     Invalidator
	adminKey  string
	rpm       int
	days      int
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewKeyService creates a KeyService.
func NewKeyService(stores *store.Stores, cache Invalidator, cfg Config) *KeyService {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultRequestsPerMinute <= 0 {
		cfg.DefaultRequestsPerMinute = 60
	}
	return &KeyService{
		creds:     stores.Credentials,
		endpoints: stores.Endpoints,
		cache:     cache,
		adminKey:  cfg.AdminKey,
		rpm:       cfg.DefaultRequestsPerMinute,
		days:      cfg.DefaultExpirationDays,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "keys"),
	}
}

// Principal is the caller identified by an API key.
type Principal struct {
	Hash      string
	KeyPrefix string
	Admin     bool
}

// Owns reports whether p may act on the key with the given hash.
func (p *Principal) Owns(hash string) bool {
	return p != nil && (p.Admin || p.Hash == hash)
}

// AdminPrincipal returns the principal of the configured admin key, for
// operator tooling that acts without an HTTP request.
func (s *KeyService) AdminPrincipal() *Principal {
	return &Principal{Hash: store.HashAPIKey(s.adminKey), KeyPrefix: KeyPrefix(s.adminKey), Admin: true}
}

func (s *KeyService) isAdmin(rawKey string) bool {
	return s.adminKey != "" && subtle.ConstantTimeCompare([]byte(rawKey), []byte(s.adminKey)) == 1
}

// KeyPrefix returns the loggable leading part of a key.
func KeyPrefix(rawKey string) string {
	if len(rawKey) <= prefixLength {
		return rawKey
	}
	return rawKey[:prefixLength]
}

// GenerateOptions override the configured defaults. Nil fields use them.
type GenerateOptions struct {
	ExpirationDays    *int
	RequestsPerMinute *int
}

// GeneratedKey is returned once by Generate; the raw key is not kept.
type GeneratedKey struct {
	Key               string
	KeyPrefix         string
	ExpiresAt         *time.Time
	RequestsPerMinute int
}

// Generate creates a key, its credential record and an empty endpoint
// registration. Zero expiration days produce a key that is already expired.
func (s *KeyService) Generate(ctx context.Context, opts GenerateOptions) (*GeneratedKey, error) {
	rpm := s.rpm
	if opts.RequestsPerMinute != nil {
		if *opts.RequestsPerMinute <= 0 {
			return nil, fmt.Errorf("%w: requests_per_minute must be positive", ErrInvalidOptions)
		}
		rpm = *opts.RequestsPerMinute
	}
	days := s.days
	if opts.ExpirationDays != nil {
		if *opts.ExpirationDays < 0 {
			return nil, fmt.Errorf("%w: expiration_days must not be negative", ErrInvalidOptions)
		}
		days = *opts.ExpirationDays
	}

	raw, err := newRawKey()
	if err != nil {
		return nil, err
	}
	hash := store.HashAPIKey(raw)
	now := s.clock.Now().UTC()

	var expiresAt *time.Time
	if days >= 0 {
		t := now.AddDate(0, 0, days)
		expiresAt = &t
	}
	rec := model.APIKeyRecord{
		KeyPrefix: KeyPrefix(raw),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		RateLimit: model.RateLimit{
			RequestsPerMinute: rpm,
			CurrentWindow:     model.WindowOf(now),
		},
	}

	if err := s.creds.Put(ctx, hash, rec); err != nil {
		return nil, fmt.Errorf("store key record: %w", err)
	}
	if err := s.endpoints.CreateEmpty(ctx, hash); err != nil {
		if _, rbErr := s.creds.Delete(ctx, hash); rbErr != nil {
			s.logger.Error("rollback of key record failed", "key_prefix", rec.KeyPrefix, "error", rbErr)
		}
		return nil, fmt.Errorf("store endpoint registration: %w", err)
	}

	s.metrics.KeyOperation("generate")
	s.logger.Info("api key generated", "key_prefix", rec.KeyPrefix, "requests_per_minute", rpm, "expires_at", expiresAt)
	return &GeneratedKey{
		Key:               raw,
		KeyPrefix:         rec.KeyPrefix,
		ExpiresAt:         expiresAt,
		RequestsPerMinute: rpm,
	}, nil
}

func newRawKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

// PurgeReceipt reports the usage of a purged key.
type PurgeReceipt struct {
	KeyPrefix     string
	TotalRequests int64
	CreatedAt     time.Time
	LastUsed      *time.Time
}

// Purge removes target's credential record and endpoint registration and
// evicts it from the cache. Only the key itself or the admin may purge it,
// and the admin key can never be purged.
func (s *KeyService) Purge(ctx context.Context, target string, requester *Principal) (*PurgeReceipt, error) {
	if s.isAdmin(target) {
		return nil, ErrAdminProtected
	}
	hash := store.HashAPIKey(target)
	if !requester.Owns(hash) {
		return nil, ErrNotAuthorized
	}

	removed, err := s.creds.Delete(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete key record: %w", err)
	}
	defer s.cache.Invalidate(hash)

	if err := s.endpoints.Delete(ctx, hash); err != nil {
		return nil, fmt.Errorf("delete endpoint registration: %w", err)
	}

	s.metrics.KeyOperation("purge")
	s.logger.Info("api key purged", "key_prefix", removed.KeyPrefix, "admin", requester.Admin, "total_requests", removed.TotalRequests)
	return &PurgeReceipt{
		KeyPrefix:     removed.KeyPrefix,
		TotalRequests: removed.TotalRequests,
		CreatedAt:     removed.CreatedAt,
		LastUsed:      removed.LastUsed,
	}, nil
}

// ListKeys describes every stored key, oldest first.
func (s *KeyService) ListKeys(ctx context.Context) ([]model.KeySummary, error) {
	records, err := s.creds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	registered, err := s.endpoints.Registered(ctx)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	out := make([]model.KeySummary, 0, len(records))
	for _, r := range records {
		out = append(out, model.KeySummary{
			KeyPrefix:         r.Record.KeyPrefix,
			CreatedAt:         r.Record.CreatedAt,
			LastUsed:          r.Record.LastUsed,
			ExpiresAt:         r.Record.ExpiresAt,
			RequestsPerMinute: r.Record.RateLimit.RequestsPerMinute,
			TotalRequests:     r.Record.TotalRequests,
			Registered:        registered[r.Hash],
		})
	}
	return out, nil
}

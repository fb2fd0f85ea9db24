package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/codequerydev/codequery/internal/cache"
	"github.com/codequerydev/codequery/internal/config"
	"github.com/codequerydev/codequery/internal/docstore"
	"github.com/codequerydev/codequery/internal/forward"
	"github.com/codequerydev/codequery/internal/metrics"
	"github.com/codequerydev/codequery/internal/service"
	"github.com/codequerydev/codequery/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// CODEQUERY_DATA_DIR env var, or ~/.codequery as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CODEQUERY_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".codequery")
}

// loadSettings reads the effective settings and fills the store paths that
// default to the data directory.
func loadSettings() (*config.Settings, error) {
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	applyDataDir(s, resolveDataDir())
	return s, nil
}

func applyDataDir(s *config.Settings, dir string) {
	if s.Store.Location == "" {
		s.Store.Location = "sqlite://" + filepath.ToSlash(filepath.Join(dir, "codequery.db"))
	}
	if s.Store.IdentityFile == "" {
		s.Store.IdentityFile = filepath.Join(dir, "identity.age")
	}
}

func newLogger(s config.LogSettings, dev bool) *slog.Logger {
	if dev {
		s.Level = "debug"
	}
	return config.NewLogger(s, os.Stderr)
}

// gateway bundles everything the gateway process and the offline key
// commands share.
type gateway struct {
	settings *config.Settings
	stores   *store.Stores
	resolver *cache.Resolver
	keys     *service.KeyService
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// openGateway opens the sealed stores and builds the key service over them.
func openGateway(s *config.Settings, logger *slog.Logger) (*gateway, error) {
	identity, created, err := docstore.LoadOrCreateIdentity(s.Store.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("load store identity: %w", err)
	}
	if created {
		logger.Warn("generated a new store identity, back it up: records cannot be read without it", "path", s.Store.IdentityFile)
	}

	backend, err := docstore.OpenBackend(s.Store.Location)
	if err != nil {
		return nil, err
	}
	stores, err := store.Open(backend, docstore.NewAgeSealer(identity), store.Options{
		CredentialsDocument: s.Store.CredentialsDocument,
		EndpointsDocument:   s.Store.EndpointsDocument,
		Timeout:             s.Store.Timeout.Std(),
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open stores: %w", err)
	}

	m := metrics.New()
	resolver := cache.New(stores.Endpoints, m)
	keys := service.NewKeyService(stores, resolver, service.Config{
		AdminKey:                 s.Auth.AdminKey,
		DefaultRequestsPerMinute: s.Keys.DefaultRequestsPerMinute,
		DefaultExpirationDays:    s.Keys.DefaultExpirationDays,
		Metrics:                  m,
		Logger:                   logger,
	})

	return &gateway{
		settings: s,
		stores:   stores,
		resolver: resolver,
		keys:     keys,
		metrics:  m,
		logger:   logger,
	}, nil
}

func (g *gateway) forwarder() *forward.Forwarder {
	return forward.New(forward.Config{
		Timeout:     g.settings.Forward.Timeout.Std(),
		StripHeader: g.settings.Auth.APIKeyHeader,
		Metrics:     g.metrics,
		Logger:      g.logger,
	})
}

func (g *gateway) Close() error {
	return g.stores.Close()
}

// redactLocation hides the password in a DSN-style store location.
func redactLocation(location string) string {
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok {
		return location
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return location
	}
	user, _, hasPassword := strings.Cut(rest[:at], ":")
	if !hasPassword {
		return location
	}
	return scheme + "://" + user + ":****" + rest[at:]
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

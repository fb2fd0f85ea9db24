package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Settings is the complete codequery configuration. The same structure is
// read from codequery.yaml, CODEQUERY_* environment variables and flags.
type Settings struct {
	Server  ServerSettings  `mapstructure:"server" yaml:"server"`
	Auth    AuthSettings    `mapstructure:"auth" yaml:"auth"`
	Store   StoreSettings   `mapstructure:"store" yaml:"store"`
	Keys    KeySettings     `mapstructure:"keys" yaml:"keys"`
	Forward ForwardSettings `mapstructure:"forward" yaml:"forward"`
	Agent   AgentSettings   `mapstructure:"agent" yaml:"agent"`
	MCP     MCPSettings     `mapstructure:"mcp" yaml:"mcp"`
	Log     LogSettings     `mapstructure:"log" yaml:"log"`
}

// ServerSettings controls the gateway HTTP server.
type ServerSettings struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodySize     int64    `mapstructure:"max_body_size" yaml:"max_body_size"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// GenerateRateLimit caps unauthenticated key generation per client IP
	// per minute. Zero disables the cap.
	GenerateRateLimit int `mapstructure:"generate_rate_limit" yaml:"generate_rate_limit"`
}

// Addr returns host:port.
func (s ServerSettings) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthSettings controls how callers present credentials.
type AuthSettings struct {
	APIKeyHeader string `mapstructure:"api_key_header" yaml:"api_key_header"`
	AdminKey     string `mapstructure:"admin_key" yaml:"admin_key"`
}

// StoreSettings controls the durable credential and endpoint documents.
type StoreSettings struct {
	// Location selects the backend: memory:, file:///dir, sqlite:///file.db,
	// postgres://..., mysql://..., sqlserver://...
	Location            string   `mapstructure:"location" yaml:"location"`
	IdentityFile        string   `mapstructure:"identity_file" yaml:"identity_file"`
	Timeout             Duration `mapstructure:"timeout" yaml:"timeout"`
	CredentialsDocument string   `mapstructure:"credentials_document" yaml:"credentials_document"`
	EndpointsDocument   string   `mapstructure:"endpoints_document" yaml:"endpoints_document"`
}

// KeySettings holds defaults applied to newly generated keys.
type KeySettings struct {
	DefaultRequestsPerMinute int `mapstructure:"default_requests_per_minute" yaml:"default_requests_per_minute"`
	// DefaultExpirationDays < 0 means generated keys never expire.
	DefaultExpirationDays int `mapstructure:"default_expiration_days" yaml:"default_expiration_days"`
}

// ForwardSettings controls requests relayed to registered endpoints.
type ForwardSettings struct {
	Timeout Duration `mapstructure:"timeout" yaml:"timeout"`
}

// AgentSettings controls the tunnel-side registration agent.
type AgentSettings struct {
	TunnelAPIURL        string   `mapstructure:"tunnel_api_url" yaml:"tunnel_api_url"`
	GatewayURL          string   `mapstructure:"gateway_url" yaml:"gateway_url"`
	APIKey              string   `mapstructure:"api_key" yaml:"api_key"`
	Timeout             Duration `mapstructure:"timeout" yaml:"timeout"`
	RegistrationTimeout Duration `mapstructure:"registration_timeout" yaml:"registration_timeout"`
	RetryDelay          Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	BackoffFactor       float64  `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	MaxRetryDelay       Duration `mapstructure:"max_retry_delay" yaml:"max_retry_delay"`
	RegisterAttempts    int      `mapstructure:"register_attempts" yaml:"register_attempts"`
	VerifyAttempts      int      `mapstructure:"verify_attempts" yaml:"verify_attempts"`
	VerifyDelay         Duration `mapstructure:"verify_delay" yaml:"verify_delay"`
	CheckInterval       Duration `mapstructure:"check_interval" yaml:"check_interval"`
	StalenessInterval   Duration `mapstructure:"staleness_interval" yaml:"staleness_interval"`
}

// MCPSettings controls the MCP server that fronts the gateway for AI agents.
type MCPSettings struct {
	GatewayURL string `mapstructure:"gateway_url" yaml:"gateway_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Transport  string `mapstructure:"transport" yaml:"transport"`
}

// LogSettings controls log output.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultSettings returns Settings pre-filled with defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Host:              "0.0.0.0",
			Port:              8000,
			ShutdownTimeout:   Duration(30 * time.Second),
			MaxBodySize:       10 * 1024 * 1024,
			CORSOrigins:       []string{"*"},
			GenerateRateLimit: 10,
		},
		Auth: AuthSettings{
			APIKeyHeader: "X-API-Key",
		},
		Store: StoreSettings{
			Timeout:             Duration(10 * time.Second),
			CredentialsDocument: "api_keys",
			EndpointsDocument:   "ngrok_urls",
		},
		Keys: KeySettings{
			DefaultRequestsPerMinute: 60,
			DefaultExpirationDays:    30,
		},
		Forward: ForwardSettings{
			Timeout: Duration(10 * time.Second),
		},
		Agent: AgentSettings{
			TunnelAPIURL:        "http://localhost:4040/api/tunnels",
			Timeout:             Duration(10 * time.Second),
			RegistrationTimeout: Duration(5 * time.Minute),
			RetryDelay:          Duration(2 * time.Second),
			BackoffFactor:       2,
			MaxRetryDelay:       Duration(time.Minute),
			RegisterAttempts:    3,
			VerifyAttempts:      3,
			VerifyDelay:         Duration(time.Second),
			CheckInterval:       Duration(30 * time.Second),
			StalenessInterval:   Duration(time.Hour),
		},
		MCP: MCPSettings{
			Transport: "stdio",
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v so that environment variables
// are honored for keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.generate_rate_limit", d.Server.GenerateRateLimit)
	v.SetDefault("auth.api_key_header", d.Auth.APIKeyHeader)
	v.SetDefault("auth.admin_key", d.Auth.AdminKey)
	v.SetDefault("store.location", d.Store.Location)
	v.SetDefault("store.identity_file", d.Store.IdentityFile)
	v.SetDefault("store.timeout", d.Store.Timeout.String())
	v.SetDefault("store.credentials_document", d.Store.CredentialsDocument)
	v.SetDefault("store.endpoints_document", d.Store.EndpointsDocument)
	v.SetDefault("keys.default_requests_per_minute", d.Keys.DefaultRequestsPerMinute)
	v.SetDefault("keys.default_expiration_days", d.Keys.DefaultExpirationDays)
	v.SetDefault("forward.timeout", d.Forward.Timeout.String())
	v.SetDefault("agent.tunnel_api_url", d.Agent.TunnelAPIURL)
	v.SetDefault("agent.gateway_url", d.Agent.GatewayURL)
	v.SetDefault("agent.api_key", d.Agent.APIKey)
	v.SetDefault("agent.timeout", d.Agent.Timeout.String())
	v.SetDefault("agent.registration_timeout", d.Agent.RegistrationTimeout.String())
	v.SetDefault("agent.retry_delay", d.Agent.RetryDelay.String())
	v.SetDefault("agent.backoff_factor", d.Agent.BackoffFactor)
	v.SetDefault("agent.max_retry_delay", d.Agent.MaxRetryDelay.String())
	v.SetDefault("agent.register_attempts", d.Agent.RegisterAttempts)
	v.SetDefault("agent.verify_attempts", d.Agent.VerifyAttempts)
	v.SetDefault("agent.verify_delay", d.Agent.VerifyDelay.String())
	v.SetDefault("agent.check_interval", d.Agent.CheckInterval.String())
	v.SetDefault("agent.staleness_interval", d.Agent.StalenessInterval.String())
	v.SetDefault("mcp.gateway_url", d.MCP.GatewayURL)
	v.SetDefault("mcp.api_key", d.MCP.APIKey)
	v.SetDefault("mcp.transport", d.MCP.Transport)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load decodes the effective settings from v and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	SetDefaults(v)

	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	switch {
	case s.Server.Port < 0 || s.Server.Port > 65535:
		return invalid("server.port", "must be between 0 and 65535")
	case s.Server.GenerateRateLimit < 0:
		return invalid("server.generate_rate_limit", "must not be negative")
	case strings.TrimSpace(s.Auth.APIKeyHeader) == "":
		return invalid("auth.api_key_header", "must not be empty")
	case s.Store.Timeout <= 0:
		return invalid("store.timeout", "must be positive")
	case s.Store.CredentialsDocument == "" || s.Store.EndpointsDocument == "":
		return invalid("store", "document names must not be empty")
	case s.Store.CredentialsDocument == s.Store.EndpointsDocument:
		return invalid("store", "credential and endpoint documents must differ")
	case s.Keys.DefaultRequestsPerMinute <= 0:
		return invalid("keys.default_requests_per_minute", "must be positive")
	case s.Forward.Timeout <= 0:
		return invalid("forward.timeout", "must be positive")
	case s.Agent.Timeout <= 0:
		return invalid("agent.timeout", "must be positive")
	case s.Agent.RetryDelay <= 0:
		return invalid("agent.retry_delay", "must be positive")
	case s.Agent.BackoffFactor < 1:
		return invalid("agent.backoff_factor", "must be at least 1")
	case s.Agent.MaxRetryDelay < s.Agent.RetryDelay:
		return invalid("agent.max_retry_delay", "must not be below agent.retry_delay")
	case s.Agent.RegisterAttempts < 1:
		return invalid("agent.register_attempts", "must be at least 1")
	case s.Agent.VerifyAttempts < 1:
		return invalid("agent.verify_attempts", "must be at least 1")
	case s.Agent.CheckInterval <= 0:
		return invalid("agent.check_interval", "must be positive")
	}
	if _, err := ParseLevel(s.Log.Level); err != nil {
		return invalid("log.level", err.Error())
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		return invalid("log.format", `must be "text" or "json"`)
	}
	return nil
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (s Settings) Redacted() Settings {
	s.Auth.AdminKey = mask(s.Auth.AdminKey)
	s.Agent.APIKey = mask(s.Agent.APIKey)
	s.MCP.APIKey = mask(s.MCP.APIKey)
	return s
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "********"
	}
	return secret[:6] + "..." + secret[len(secret)-2:]
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Duration is a time.Duration that reads and writes as "10s" style text in
// YAML, environment variables and flags.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

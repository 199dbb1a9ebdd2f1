// Package config provides the configuration schema of the BloodConnect
// identity service.
//
// Configuration is file-based (bloodconnect.yaml) with environment overrides.
// Every section is optional: an empty configuration runs the fixture provider
// with an in-memory profile store on 127.0.0.1:8080.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Provider modes.
const (
	ProviderFixture = "fixture"
	ProviderRemote  = "remote"
)

// Profile store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP listener and logging.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Provider selects and configures the identity provider.
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`

	// Profiles configures where roles and account status are persisted.
	Profiles ProfilesConfig `yaml:"profiles" mapstructure:"profiles"`

	// Session configures per-client session lifetimes.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Authz overrides the route table.
	Authz AuthzConfig `yaml:"authz" mapstructure:"authz"`

	// Audit configures the trail of logins, logouts and profile changes.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry enables OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging and fixture login.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level: debug, info, warn or error.
	// Defaults to "info". DevMode overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFormat is "text" or "json". Defaults to "text".
	LogFormat string `yaml:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=text json"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `yaml:"tls_key_file" mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	// SecureCookie marks the session cookie Secure. Implied by TLS.
	SecureCookie bool `yaml:"secure_cookie" mapstructure:"secure_cookie"`

	// AllowedOrigins lists CORS origins allowed to call the API with credentials.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`

	// ViewUpstream is the base URL of the view layer allowed pages are proxied to.
	// When empty, allowed pages get a JSON placeholder.
	ViewUpstream string `yaml:"view_upstream" mapstructure:"view_upstream" validate:"omitempty,url"`

	// ReadyTimeout bounds how long guarded requests wait for restoration (e.g., "15s").
	ReadyTimeout string `yaml:"ready_timeout" mapstructure:"ready_timeout" validate:"omitempty,duration"`
}

// ProviderConfig selects the identity provider. Exactly one provider is
// active per process.
type ProviderConfig struct {
	// Mode is "fixture" or "remote". Defaults to "fixture".
	Mode string `yaml:"mode" mapstructure:"mode" validate:"omitempty,oneof=fixture remote"`

	// Fixture configures the fixture provider.
	Fixture FixtureConfig `yaml:"fixture" mapstructure:"fixture"`

	// Remote configures the remote identity service.
	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
}

// FixtureConfig configures the fixture provider.
type FixtureConfig struct {
	// File is a YAML identity table. When empty the built-in demo identities are used.
	File string `yaml:"file" mapstructure:"file"`

	// LoginEnabled exposes POST /api/session/fixture, which logs in as a
	// fixture identity without a secret. DevMode enables it.
	LoginEnabled bool `yaml:"login_enabled" mapstructure:"login_enabled"`
}

// RemoteConfig configures the remote identity service.
type RemoteConfig struct {
	// BaseURL is the identity service root (e.g., "https://identity.example.com").
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is sent as the key query parameter when set.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// SigningKey verifies the HS256 id tokens the service issues.
	SigningKey string `yaml:"signing_key" mapstructure:"signing_key"`

	// Issuer, when set, must match the iss claim of every id token.
	Issuer string `yaml:"issuer" mapstructure:"issuer"`

	// Timeout bounds each call to the service (e.g., "10s"). Defaults to "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`

	// TokenFile persists the current id token for the CLI session commands.
	// Defaults to "~/.bloodconnect/token".
	TokenFile string `yaml:"token_file" mapstructure:"token_file"`
}

// ProfilesConfig configures the profile store.
type ProfilesConfig struct {
	// Backend is "memory", "file" or "sqlite". Defaults to "memory".
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=memory file sqlite"`

	// Path is the state file of the file backend. Defaults to "./bloodconnect-state.json".
	Path string `yaml:"path" mapstructure:"path"`

	// DSN is the SQLite data source of the sqlite backend (e.g., "file:bloodconnect.db").
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// SeedFixtures creates profiles for the fixture identities at startup
	// when they do not exist yet. Defaults to true in fixture mode.
	SeedFixtures bool `yaml:"seed_fixtures" mapstructure:"seed_fixtures"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	// IdleTimeout removes client sessions not used for this long. Defaults to "30m".
	IdleTimeout string `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"omitempty,duration"`

	// CleanupInterval is how often idle sessions are swept. Defaults to "1m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxSessions caps concurrent client sessions; the least recently used
	// guest session is evicted at the cap. Defaults to 10000.
	MaxSessions int `yaml:"max_sessions" mapstructure:"max_sessions" validate:"min=0"`

	// RestoreTimeout bounds session restoration. Defaults to "10s".
	RestoreTimeout string `yaml:"restore_timeout" mapstructure:"restore_timeout" validate:"omitempty,duration"`

	// LoginTimeout bounds each login attempt. Defaults to "10s".
	LoginTimeout string `yaml:"login_timeout" mapstructure:"login_timeout" validate:"omitempty,duration"`

	// LoginAttempts is how many login attempts one client address or one
	// email may make per LoginWindow. Defaults to 10; 0 disables throttling.
	LoginAttempts int `yaml:"login_attempts" mapstructure:"login_attempts" validate:"min=0"`

	// LoginWindow is the period LoginAttempts refills over. Defaults to "1m".
	LoginWindow string `yaml:"login_window" mapstructure:"login_window" validate:"omitempty,duration"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Output is where records are written as JSON lines in addition to the
	// in-memory buffer: "" (memory only), "stdout" or "file:///path".
	Output string `yaml:"output" mapstructure:"output"`

	// Capacity is how many recent records the admin API can list. Defaults to 1000.
	Capacity int `yaml:"capacity" mapstructure:"capacity" validate:"min=0"`
}

// FilePath returns the path of a "file:///path" output, or "" for any other output.
func (a AuditConfig) FilePath() string {
	return ParseFileURI(a.Output)
}

// AuthzConfig configures route authorization.
type AuthzConfig struct {
	// LoginPath is where denied page requests are redirected. Defaults to "/login".
	LoginPath string `yaml:"login_path" mapstructure:"login_path" validate:"omitempty,startswith=/"`

	// Rules replaces the built-in route table when non-empty.
	// Rules are evaluated in order; first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// RuleConfig defines one route rule.
type RuleConfig struct {
	// Name identifies the rule in decisions and metrics.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Pattern is an exact path, a "/prefix/*" subtree or a glob.
	Pattern string `yaml:"pattern" mapstructure:"pattern" validate:"required,startswith=/"`

	// Access is "public", "authenticated" or "roles".
	Access string `yaml:"access" mapstructure:"access" validate:"required,oneof=public authenticated roles"`

	// Roles lists the admitted roles when Access is "roles".
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"omitempty,dive,oneof=member staff admin"`

	// Condition is an optional CEL expression that must also hold.
	// Variables: role, path, identity_id, email, account_status, request_time.
	Condition string `yaml:"condition" mapstructure:"condition"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// Tracing exports spans to stdout.
	Tracing bool `yaml:"tracing" mapstructure:"tracing"`

	// Metrics exports OpenTelemetry metrics to stdout.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`

	// MetricInterval is the metric export period. Defaults to "1m".
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"omitempty,duration"`
}

// SetDevDefaults applies development conveniences. Applied before validation.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if c.Provider.Mode == ProviderFixture {
		c.Provider.Fixture.LoginEnabled = true
	}
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "text"
	}
	if c.Server.ReadyTimeout == "" {
		c.Server.ReadyTimeout = "15s"
	}
	if c.Server.TLSCertFile != "" && c.Server.TLSKeyFile != "" {
		c.Server.SecureCookie = true
	}

	if c.Provider.Mode == "" {
		c.Provider.Mode = ProviderFixture
	}
	if c.Provider.Remote.Timeout == "" {
		c.Provider.Remote.Timeout = "10s"
	}

	if c.Profiles.Backend == "" {
		c.Profiles.Backend = BackendMemory
	}
	if c.Profiles.Backend == BackendFile && c.Profiles.Path == "" {
		c.Profiles.Path = "./bloodconnect-state.json"
	}
	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("profiles.seed_fixtures") && c.Provider.Mode == ProviderFixture {
		c.Profiles.SeedFixtures = true
	}

	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "30m"
	}
	if c.Session.CleanupInterval == "" {
		c.Session.CleanupInterval = "1m"
	}
	if c.Session.MaxSessions == 0 {
		c.Session.MaxSessions = 10000
	}
	if c.Session.RestoreTimeout == "" {
		c.Session.RestoreTimeout = "10s"
	}
	if c.Session.LoginTimeout == "" {
		c.Session.LoginTimeout = "10s"
	}

	// An explicit 0 disables throttling.
	if !viper.IsSet("session.login_attempts") {
		c.Session.LoginAttempts = 10
	}
	if c.Session.LoginWindow == "" {
		c.Session.LoginWindow = "1m"
	}

	if c.Audit.Capacity == 0 {
		c.Audit.Capacity = 1000
	}

	if c.Authz.LoginPath == "" {
		c.Authz.LoginPath = "/login"
	}

	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "1m"
	}
}

// ParseFileURI extracts the file path from a "file:///path" URI.
// On Windows, file:///C:/path yields C:/path. Returns "" for other values.
func ParseFileURI(uri string) string {
	const prefix = "file://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return ""
	}
	path := uri[len(prefix):]
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return path
}

// Duration parses a validated duration field. Empty or malformed values
// yield zero, which every consumer treats as "use the default".
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

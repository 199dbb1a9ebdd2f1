package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for bloodconnect.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is never
// matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, which callers tolerate.
		viper.SetConfigName("bloodconnect")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: BLOODCONNECT_SERVER_HTTP_ADDR
	viper.SetEnvPrefix("BLOODCONNECT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a bloodconnect config file.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".bloodconnect"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "bloodconnect"))
		}
	} else {
		paths = append(paths, "/etc/bloodconnect")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for bloodconnect.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "bloodconnect"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so they can be overridden from the
// environment. Example: BLOODCONNECT_PROVIDER_REMOTE_SIGNING_KEY overrides
// provider.remote.signing_key.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.log_format")
	_ = viper.BindEnv("server.tls_cert_file")
	_ = viper.BindEnv("server.tls_key_file")
	_ = viper.BindEnv("server.secure_cookie")
	_ = viper.BindEnv("server.view_upstream")
	_ = viper.BindEnv("server.ready_timeout")

	_ = viper.BindEnv("provider.mode")
	_ = viper.BindEnv("provider.fixture.file")
	_ = viper.BindEnv("provider.fixture.login_enabled")
	_ = viper.BindEnv("provider.remote.base_url")
	_ = viper.BindEnv("provider.remote.api_key")
	_ = viper.BindEnv("provider.remote.signing_key")
	_ = viper.BindEnv("provider.remote.issuer")
	_ = viper.BindEnv("provider.remote.timeout")
	_ = viper.BindEnv("provider.remote.token_file")

	_ = viper.BindEnv("profiles.backend")
	_ = viper.BindEnv("profiles.path")
	_ = viper.BindEnv("profiles.dsn")
	_ = viper.BindEnv("profiles.seed_fixtures")

	_ = viper.BindEnv("session.idle_timeout")
	_ = viper.BindEnv("session.cleanup_interval")
	_ = viper.BindEnv("session.max_sessions")
	_ = viper.BindEnv("session.restore_timeout")
	_ = viper.BindEnv("session.login_timeout")
	_ = viper.BindEnv("session.login_attempts")
	_ = viper.BindEnv("session.login_window")

	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.capacity")

	// authz.rules is an array; configure it in the file.
	_ = viper.BindEnv("authz.login_path")

	_ = viper.BindEnv("telemetry.tracing")
	_ = viper.BindEnv("telemetry.metrics")
	_ = viper.BindEnv("telemetry.metric_interval")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file: run on environment variables and defaults.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/cel"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/fixture"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/remote"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/sqlite"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/state"
	"github.com/enteecaay/BloodDonation-prototype/internal/config"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/authz"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
)

// loadConfig loads and validates the configuration, applying --dev first.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger on w.
// Priority: DevMode=true -> debug, otherwise the configured log_level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Server.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// providerSet is the identity provider of the process. dir is set in
// fixture mode only.
type providerSet struct {
	mode string
	dir  *fixture.Directory
	// newProvider builds a provider for one Manager.
	newProvider func() auth.IdentityProvider
}

// buildProviders prepares the configured provider. tokens is the token
// store of remote providers; nil keeps tokens in memory per Manager.
func buildProviders(cfg *config.Config, tokens func() remote.TokenStore, logger *slog.Logger) (*providerSet, error) {
	switch cfg.Provider.Mode {
	case config.ProviderRemote:
		client, err := remote.NewClient(remote.ClientConfig{
			BaseURL:    cfg.Provider.Remote.BaseURL,
			APIKey:     cfg.Provider.Remote.APIKey,
			SigningKey: []byte(cfg.Provider.Remote.SigningKey),
			Issuer:     cfg.Provider.Remote.Issuer,
			Timeout:    config.Duration(cfg.Provider.Remote.Timeout),
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("remote provider: %w", err)
		}
		return &providerSet{
			mode: config.ProviderRemote,
			newProvider: func() auth.IdentityProvider {
				var store remote.TokenStore
				if tokens != nil {
					store = tokens()
				}
				return remote.NewProvider(client, store)
			},
		}, nil

	default:
		dir, err := loadFixtureDirectory(cfg.Provider.Fixture.File)
		if err != nil {
			return nil, err
		}
		logger.Debug("fixture identities loaded", "count", len(dir.Identities()))
		return &providerSet{
			mode:        config.ProviderFixture,
			dir:         dir,
			newProvider: func() auth.IdentityProvider { return fixture.NewProvider(dir) },
		}, nil
	}
}

func loadFixtureDirectory(path string) (*fixture.Directory, error) {
	if path == "" {
		return fixture.NewDefaultDirectory()
	}
	f, err := fixture.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return fixture.NewDirectory(f)
}

// openProfileStore opens the configured profile backend. The returned close
// func releases it.
func openProfileStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.ProfileStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Profiles.Backend {
	case config.BackendFile:
		store, err := state.OpenProfileStore(cfg.Profiles.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("profile store opened", "backend", config.BackendFile, "path", store.Path())
		return store, noop, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.Profiles.DSN)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("profile store opened", "backend", config.BackendSQLite)
		return sqlite.NewProfileRepository(db), db.Close, nil

	default:
		logger.Info("profile store opened", "backend", config.BackendMemory)
		return memory.NewProfileStore(), noop, nil
	}
}

// buildGuard builds the route guard from the configured rules, or the
// built-in table when none are configured.
func buildGuard(cfg *config.Config, logger *slog.Logger) (*authz.Guard, error) {
	rules := authz.DefaultRules()
	if len(cfg.Authz.Rules) > 0 {
		rules = make([]authz.Rule, 0, len(cfg.Authz.Rules))
		for _, r := range cfg.Authz.Rules {
			roles := make([]auth.Role, 0, len(r.Roles))
			for _, name := range r.Roles {
				roles = append(roles, auth.Role(name))
			}
			rules = append(rules, authz.Rule{
				Name:      r.Name,
				Pattern:   r.Pattern,
				Access:    authz.Access(r.Access),
				Roles:     roles,
				Condition: r.Condition,
			})
		}
	}

	table, err := authz.NewTable(rules)
	if err != nil {
		return nil, err
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}
	guard := authz.NewGuard(table,
		authz.WithConditions(evaluator),
		authz.WithLoginPath(cfg.Authz.LoginPath),
		authz.WithLogger(logger),
	)
	if err := guard.ValidateConditions(); err != nil {
		return nil, err
	}
	return guard, nil
}

// managerConfig is the session.Config shared by every Manager of the process.
func managerConfig(cfg *config.Config, providers *providerSet, profiles auth.ProfileStore, recorder session.Recorder, logger *slog.Logger) func() session.Config {
	return func() session.Config {
		return session.Config{
			Provider:       providers.newProvider(),
			Profiles:       profiles,
			Logger:         logger,
			Recorder:       recorder,
			RestoreTimeout: config.Duration(cfg.Session.RestoreTimeout),
			LoginTimeout:   config.Duration(cfg.Session.LoginTimeout),
			FixtureLogin:   providers.mode == config.ProviderFixture && cfg.Provider.Fixture.LoginEnabled,
		}
	}
}

// dataDir is the per-user directory for the PID file and CLI tokens.
func dataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".bloodconnect")
	}
	return filepath.Join(os.TempDir(), "bloodconnect")
}

// tokenFilePath is the CLI token file of the remote provider.
func tokenFilePath(cfg *config.Config) string {
	if cfg.Provider.Remote.TokenFile != "" {
		return cfg.Provider.Remote.TokenFile
	}
	return filepath.Join(dataDir(), "token")
}

// openAuditStore builds the audit trail. Records are always buffered for the
// admin API and also written as JSON lines when audit.output is set.
func openAuditStore(cfg *config.Config) (*memory.AuditStore, error) {
	switch out := cfg.Audit.Output; out {
	case "":
		return memory.NewAuditStore(cfg.Audit.Capacity), nil
	case "stdout":
		return memory.NewAuditStoreWithWriter(os.Stdout, cfg.Audit.Capacity), nil
	default:
		path := cfg.Audit.FilePath()
		if path == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", out)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}
		return memory.NewAuditStoreWithWriter(f, cfg.Audit.Capacity), nil
	}
}

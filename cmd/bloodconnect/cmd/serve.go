package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	apihttp "github.com/enteecaay/BloodDonation-prototype/internal/adapter/inbound/http"
	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/config"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/ratelimit"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/session"
	"github.com/enteecaay/BloodDonation-prototype/internal/service"
	"github.com/enteecaay/BloodDonation-prototype/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP service",
	Long: `Start the BloodConnect identity service.

The service keeps one session per browser (cookie bloodconnect_session),
exposes the session API under /api/session and guards every other path with
the route table. Allowed pages are proxied to server.view_upstream when configured.

Examples:
  # Start with demo identities and fixture login
  bloodconnect serve --dev

  # Start with a specific config file
  bloodconnect --config /path/to/bloodconnect.yaml serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, fixture login)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg, os.Stderr)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("development mode enabled", "fixture_login", cfg.Provider.Fixture.LoginEnabled)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("bloodconnect stopped")
	return nil
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Tracing:        cfg.Telemetry.Tracing,
		Metrics:        cfg.Telemetry.Metrics,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval),
		Writer:         os.Stdout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := apihttp.NewMetrics(promReg)

	profiles, closeProfiles, err := openProfileStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}
	defer func() {
		if err := closeProfiles(); err != nil {
			logger.Warn("failed to close profile store", "error", err)
		}
	}()

	// Server sessions keep remote tokens in memory, one store per Manager.
	providers, err := buildProviders(cfg, nil, logger)
	if err != nil {
		return err
	}

	guard, err := buildGuard(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build route table: %w", err)
	}

	auditStore, err := openAuditStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := auditStore.Close(); err != nil {
			logger.Warn("failed to close audit output", "error", err)
		}
	}()
	auditService := service.NewAuditService(auditStore, logger)
	auditService.Start(ctx)
	defer auditService.Stop()
	promReg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "bloodconnect",
		Name:      "audit_dropped_total",
		Help:      "Audit records dropped because the audit queue was full",
	}, func() float64 { return float64(auditService.DroppedRecords()) }))

	limiter := memory.NewRateLimiter(memory.WithLimiterLogger(logger))
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	newConfig := managerConfig(cfg, providers, profiles, metrics, logger)
	registry := session.NewRegistry(func() *session.Manager {
		return session.NewManager(newConfig())
	}, session.RegistryConfig{
		IdleTimeout:     config.Duration(cfg.Session.IdleTimeout),
		CleanupInterval: config.Duration(cfg.Session.CleanupInterval),
		MaxSessions:     cfg.Session.MaxSessions,
		Logger:          logger,
		OnSizeChange:    metrics.SetActiveSessions,
	})
	registry.StartCleanup(ctx)
	defer registry.Stop()

	profileService := service.NewProfileService(profiles, registry, logger)
	if cfg.Profiles.SeedFixtures && providers.dir != nil {
		created, err := profileService.SeedIdentities(ctx, providers.dir.Identities())
		if err != nil {
			return fmt.Errorf("failed to seed fixture profiles: %w", err)
		}
		logger.Info("fixture profiles seeded", "created", created)
	}

	opts := []apihttp.Option{
		apihttp.WithAddr(cfg.Server.HTTPAddr),
		apihttp.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile),
		apihttp.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		apihttp.WithSecureCookie(cfg.Server.SecureCookie),
		apihttp.WithReadyTimeout(config.Duration(cfg.Server.ReadyTimeout)),
		apihttp.WithProfileService(profileService),
		apihttp.WithMetrics(metrics, promReg),
		apihttp.WithHealthChecker(apihttp.NewHealthChecker(registry, profiles, Version)),
		apihttp.WithAuditStore(auditService),
		apihttp.WithLoginLimiter(limiter, ratelimit.Config{
			Rate:   cfg.Session.LoginAttempts,
			Burst:  cfg.Session.LoginAttempts,
			Period: config.Duration(cfg.Session.LoginWindow),
		}),
		apihttp.WithLogger(logger),
	}
	if cfg.Server.ViewUpstream != "" {
		upstream, err := url.Parse(cfg.Server.ViewUpstream)
		if err != nil {
			return fmt.Errorf("invalid view upstream: %w", err)
		}
		opts = append(opts, apihttp.WithUpstream(upstream))
	}
	if providers.dir != nil && cfg.Provider.Fixture.LoginEnabled {
		opts = append(opts, apihttp.WithFixtures(providers.dir))
	}

	logger.Info("bloodconnect starting",
		"version", Version,
		"provider", providers.mode,
		"profiles", cfg.Profiles.Backend,
		"addr", cfg.Server.HTTPAddr,
		"login_attempts", cfg.Session.LoginAttempts,
	)
	return apihttp.NewServer(registry, guard, opts...).Start(ctx)
}

// pidFilePath returns the standard location of the server PID file.
func pidFilePath() string {
	return filepath.Join(dataDir(), "server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// readPIDFile returns the PID stored at path, or 0 when absent or invalid.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gatekeep/go-gatekeep/internal/config"
	"github.com/gatekeep/go-gatekeep/internal/rest"
	"github.com/gatekeep/go-gatekeep/pkg/cache"
	"github.com/gatekeep/go-gatekeep/pkg/challenge"
	"github.com/gatekeep/go-gatekeep/pkg/credential"
	"github.com/gatekeep/go-gatekeep/pkg/health"
	"github.com/gatekeep/go-gatekeep/pkg/logging"
	"github.com/gatekeep/go-gatekeep/pkg/monitor"
	"github.com/gatekeep/go-gatekeep/pkg/ratelimit"
	"github.com/gatekeep/go-gatekeep/pkg/security"
	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebAuthn relying party server",
	Long: `Starts the HTTP API server: ceremony endpoints, credential
management, health probes, and the metrics endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return runServer(cfg)
	},
}

func runServer(cfg *config.Config) error {
	logger := buildLogger(cfg.Logging)
	logger.Info("starting go-gatekeep",
		"version", Version,
		"environment", cfg.Environment,
		"rp_id", cfg.RelyingParty.RPID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cache backend: Redis when configured, in-process memory otherwise.
	var cacheBackend cache.Backend
	if cfg.Redis.Enabled {
		cacheBackend = cache.NewRedis(&cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		logger.Info("using redis cache backend", "addr", cfg.Redis.Addr)
	} else {
		cacheBackend = cache.NewMemory()
		logger.Info("using in-process cache backend")
	}

	db, err := gorm.Open(sqlite.Open(cfg.Storage.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Storage.SQLitePath, err)
	}

	durableChallenges, err := challenge.NewGormBackend(db)
	if err != nil {
		return fmt.Errorf("failed to initialize challenge storage: %w", err)
	}
	challenges, err := challenge.NewStore(challenge.StoreParams{
		Cache:   cacheBackend,
		Durable: durableChallenges,
		TTL:     cfg.Challenge.TTL,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create challenge store: %w", err)
	}
	go challenges.RunSweep(ctx, cfg.Challenge.SweepInterval)

	durableCreds, err := credential.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize credential storage: %w", err)
	}
	creds, err := credential.NewStore(credential.StoreParams{
		Durable: durableCreds,
		Cache:   cacheBackend,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	directory := webauthn.NewMemoryDirectory()
	for _, acct := range cfg.Accounts {
		created := directory.Create(&webauthn.Account{
			ID:          acct.ID,
			Username:    acct.Username,
			Email:       acct.Email,
			DisplayName: acct.DisplayName,
			Active:      true,
		})
		logger.Info("provisioned account", "username", created.Username, "id", created.ID)
	}

	tokens, err := webauthn.NewJWTIssuer(&webauthn.JWTIssuerConfig{
		Issuer:    cfg.Token.Issuer,
		Audience:  cfg.Token.Audience,
		ExpiresIn: cfg.Token.ExpiresIn,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}

	var errMonitor *monitor.Monitor
	if cfg.Monitor.Enabled {
		thresholds := monitor.DefaultThresholds()
		if cfg.Monitor.WarnRatePerMinute > 0 {
			thresholds.WarnRatePerMinute = cfg.Monitor.WarnRatePerMinute
		}
		if cfg.Monitor.CriticalRatePerMinute > 0 {
			thresholds.CriticalRatePerMinute = cfg.Monitor.CriticalRatePerMinute
		}
		if cfg.Monitor.RateWindow > 0 {
			thresholds.RateWindow = cfg.Monitor.RateWindow
		}
		errMonitor = monitor.New(&monitor.Params{
			Logger:         logger,
			Thresholds:     thresholds,
			AnalysisPeriod: cfg.Monitor.AnalysisPeriod,
		})
		registerAlertLogging(errMonitor, logger)
		go errMonitor.Run(ctx)
	}

	validator, err := security.NewValidator(&security.Config{
		Environment:      cfg.Environment,
		PrimaryOrigin:    cfg.RelyingParty.RPOrigins[0],
		ExtraOrigins:     cfg.Security.ExtraOrigins,
		MaxContentLength: cfg.Security.MaxContentLength,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create security validator: %w", err)
	}

	service, err := webauthn.NewService(webauthn.ServiceParams{
		Config:      &cfg.RelyingParty,
		Directory:   directory,
		Challenges:  challenges,
		Credentials: creds,
		Tokens:      tokens,
		Monitor:     errMonitor,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create ceremony service: %w", err)
	}

	checker := health.NewChecker()
	checker.RegisterCheck("cache", pingCheck("cache", cacheBackend.Ping))
	checker.RegisterCheck("challenge_storage", pingCheck("challenge_storage", durableChallenges.Ping))
	checker.RegisterCheck("credential_storage", pingCheck("credential_storage", durableCreds.Ping))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(&ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		})
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	server, err := rest.NewServer(&rest.Config{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		Service:          service,
		Validator:        validator,
		Tokens:           tokens,
		Checker:          checker,
		Limiter:          limiter,
		Logger:           logger,
		MaxContentLength: cfg.Security.MaxContentLength,
		MetricsPath:      metricsPath,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	checker.MarkStarted()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return err
		}
	case s := <-sig:
		logger.Info("received shutdown signal", "signal", s.String())
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildLogger constructs the process logger from the logging section.
func buildLogger(cfg config.LoggingConfig) *logging.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return logging.NewLoggerWithHandler(handler)
}

// pingCheck adapts a backend Ping into a health check.
func pingCheck(name string, ping func(context.Context) error) health.CheckFunc {
	return func(ctx context.Context) health.CheckResult {
		start := time.Now()
		if err := ping(ctx); err != nil {
			return health.CheckResult{
				Name:    name,
				Status:  health.StatusUnhealthy,
				Latency: time.Since(start),
				Error:   err.Error(),
			}
		}
		return health.CheckResult{
			Name:    name,
			Status:  health.StatusHealthy,
			Latency: time.Since(start),
		}
	}
}

func registerAlertLogging(m *monitor.Monitor, logger *logging.Logger) {
	for _, tier := range []monitor.AlertTier{
		monitor.TierNotice, monitor.TierWarning, monitor.TierCritical, monitor.TierPage,
	} {
		m.OnAlert(tier, func(alert monitor.Alert) {
			logger.Warn("monitor alert",
				"check", alert.Check,
				"subject", alert.Subject,
				"tier", alert.Tier.String(),
				"message", alert.Message)
		})
	}
}

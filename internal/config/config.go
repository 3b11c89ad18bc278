// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package config loads the server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gatekeep/go-gatekeep/pkg/webauthn"
)

// Config represents the complete server configuration.
type Config struct {
	Environment  string          `yaml:"environment"`
	Server       ServerConfig    `yaml:"server"`
	Logging      LoggingConfig   `yaml:"logging"`
	RelyingParty webauthn.Config `yaml:"relying_party"`
	Security     SecurityConfig  `yaml:"security"`
	Challenge    ChallengeConfig `yaml:"challenge"`
	Redis        RedisConfig     `yaml:"redis"`
	Storage      StorageConfig   `yaml:"storage"`
	RateLimit    RateLimitConfig `yaml:"ratelimit"`
	Monitor      MonitorConfig   `yaml:"monitor"`
	Token        TokenConfig     `yaml:"token"`
	Metrics      MetricsConfig   `yaml:"metrics"`
	Accounts     []AccountConfig `yaml:"accounts"`
}

// AccountConfig provisions a directory account at startup.
type AccountConfig struct {
	ID          string `yaml:"id"`
	Username    string `yaml:"username"`
	Email       string `yaml:"email"`
	DisplayName string `yaml:"display_name"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecurityConfig controls request validation.
type SecurityConfig struct {
	// ExtraOrigins extends the origin allow-list beyond the RP origins.
	ExtraOrigins []string `yaml:"extra_origins"`

	// MaxContentLength caps declared request payloads, in bytes.
	MaxContentLength int64 `yaml:"max_content_length"`
}

// ChallengeConfig controls challenge lifetimes.
type ChallengeConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RedisConfig controls the cache backend. When disabled, an in-process
// memory cache is used instead.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig controls the durable store.
type StorageConfig struct {
	// SQLitePath is the database file. ":memory:" runs fully in-process.
	SQLitePath string `yaml:"sqlite_path"`
}

// RateLimitConfig controls per-client request limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_min"`
	Burst             int  `yaml:"burst"`
}

// MonitorConfig tunes the error monitor thresholds.
type MonitorConfig struct {
	Enabled               bool          `yaml:"enabled"`
	WarnRatePerMinute     float64       `yaml:"warn_rate_per_min"`
	CriticalRatePerMinute float64       `yaml:"critical_rate_per_min"`
	RateWindow            time.Duration `yaml:"rate_window"`
	AnalysisPeriod        time.Duration `yaml:"analysis_period"`
}

// TokenConfig controls session token minting.
type TokenConfig struct {
	Issuer    string        `yaml:"issuer"`
	Audience  []string      `yaml:"audience"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration suitable for local development.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8443,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RelyingParty: webauthn.Config{
			RPID:          "localhost",
			RPDisplayName: "Gatekeep",
			RPOrigins:     []string{"http://localhost:8080"},
		},
		Challenge: ChallengeConfig{
			TTL:           5 * time.Minute,
			SweepInterval: time.Minute,
		},
		Storage: StorageConfig{
			SQLitePath: "gatekeep.db",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Monitor: MonitorConfig{
			Enabled:               true,
			WarnRatePerMinute:     5,
			CriticalRatePerMinute: 10,
			RateWindow:            15 * time.Minute,
			AnalysisPeriod:        time.Minute,
		},
		Token: TokenConfig{
			Issuer:    "go-gatekeep",
			Audience:  []string{"go-gatekeep"},
			ExpiresIn: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. An empty path skips the file and uses defaults
// plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if env := os.Getenv("GATEKEEP_ENVIRONMENT"); env != "" {
		cfg.Environment = env
	}
	if host := os.Getenv("GATEKEEP_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("GATEKEEP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			log.Printf("Warning: invalid GATEKEEP_PORT value %q, using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}
	if level := os.Getenv("GATEKEEP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("GATEKEEP_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if rpID := os.Getenv("GATEKEEP_RP_ID"); rpID != "" {
		cfg.RelyingParty.RPID = rpID
	}
	if origins := os.Getenv("GATEKEEP_RP_ORIGINS"); origins != "" {
		cfg.RelyingParty.RPOrigins = strings.Split(origins, ",")
	}
	if addr := os.Getenv("GATEKEEP_REDIS_ADDR"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("GATEKEEP_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if path := os.Getenv("GATEKEEP_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment) {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.Environment)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.RelyingParty.Validate(); err != nil {
		return fmt.Errorf("relying party: %w", err)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path must be specified")
	}
	if c.Challenge.TTL <= 0 {
		return fmt.Errorf("challenge ttl must be positive")
	}

	return nil
}

// IsProduction reports whether the production environment is selected.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

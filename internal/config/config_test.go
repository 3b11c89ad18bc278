// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "development", cfg.Environment)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.RelyingParty.RPID)
	assert.Equal(t, 5*time.Minute, cfg.Challenge.TTL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
environment: production
server:
  port: 9090
relying_party:
  id: auth.example.com
  display_name: Example
  origins:
    - https://auth.example.com
challenge:
  ttl: 2m
accounts:
  - id: user-1
    username: alice
    display_name: Alice
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "auth.example.com", cfg.RelyingParty.RPID)
	assert.Equal(t, 2*time.Minute, cfg.Challenge.TTL)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "alice", cfg.Accounts[0].Username)

	// Unset fields keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEP_ENVIRONMENT", "staging")
	t.Setenv("GATEKEEP_PORT", "7000")
	t.Setenv("GATEKEEP_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEP_RP_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("GATEKEEP_REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.RelyingParty.RPOrigins)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_InvalidPortEnvIgnored(t *testing.T) {
	t.Setenv("GATEKEEP_PORT", "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"bad environment", func(cfg *Config) { cfg.Environment = "qa" }},
		{"bad port", func(cfg *Config) { cfg.Server.Port = 0 }},
		{"bad log level", func(cfg *Config) { cfg.Logging.Level = "trace" }},
		{"bad log format", func(cfg *Config) { cfg.Logging.Format = "xml" }},
		{"missing rp id", func(cfg *Config) { cfg.RelyingParty.RPID = "" }},
		{"redis enabled without addr", func(cfg *Config) { cfg.Redis.Enabled = true }},
		{"missing sqlite path", func(cfg *Config) { cfg.Storage.SQLitePath = "" }},
		{"zero challenge ttl", func(cfg *Config) { cfg.Challenge.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8090", cfg.Relay.Address)
	assert.Equal(t, 2, cfg.Relay.MaxRoomClients)
	assert.Equal(t, 5*time.Second, cfg.Failover.StatsInterval)
	assert.Equal(t, 80, cfg.Failover.EngageRiskScore)
	assert.Equal(t, 30, cfg.Failover.RecoverRiskScore)
	assert.True(t, cfg.WebRTC.Beacon)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Relay.Address, cfg.Relay.Address)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
relay:
  address: ":9999"
  max_room_clients: 4
failover:
  backoff_base: 2s
  backoff_cap: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Relay.Address)
	assert.Equal(t, 4, cfg.Relay.MaxRoomClients)
	assert.Equal(t, 2*time.Second, cfg.Failover.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Failover.BackoffCap)
	// Untouched sections keep their defaults.
	assert.Equal(t, 20*time.Second, cfg.Failover.AlertThrottle)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
failover:
  engage_risk_score: 20
  recover_risk_score: 50
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recover_risk_score")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COMLINK_RELAY_URL", "ws://relay.example:8090/ws")
	t.Setenv("COMLINK_ROOM", "mission-42")
	t.Setenv("COMLINK_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://relay.example:8090/ws", cfg.Station.RelayURL)
	assert.Equal(t, "mission-42", cfg.Station.Room)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateCatchesBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty relay address", func(c *Config) { c.Relay.Address = "" }, "relay.address"},
		{"too few room clients", func(c *Config) { c.Relay.MaxRoomClients = 1 }, "max_room_clients"},
		{"zero stats interval", func(c *Config) { c.Failover.StatsInterval = 0 }, "stats_interval"},
		{"cap below base", func(c *Config) { c.Failover.BackoffCap = c.Failover.BackoffBase / 2 }, "backoff_cap"},
		{"auth without secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" }, "jwt_secret"},
		{"redis without address", func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" }, "redis.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

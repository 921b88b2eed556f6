package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/qbit-ws", cfg.Server.WebSocketPath)
	assert.Equal(t, 2*time.Second, cfg.Polling.SyncInterval)
	assert.Equal(t, 30*time.Second, cfg.Polling.StatsInterval)
	assert.Equal(t, time.Hour, cfg.Cache.AuthSessionTTL)
	assert.Equal(t, TagPolicyReplace, cfg.Polling.TagPolicy)
	assert.Equal(t, "data/config.json", cfg.Roster.File)
	assert.Less(t, cfg.QBittorrent.RequestTimeout, cfg.Polling.SyncInterval)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "8088")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("QBIT_REQUEST_TIMEOUT", "3s")
	t.Setenv("TAG_POLICY", "MERGE")
	t.Setenv("ROSTER_WATCH", "false")

	cfg := FromEnv()

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Polling.SyncInterval)
	assert.Equal(t, 3*time.Second, cfg.QBittorrent.RequestTimeout)
	assert.Equal(t, TagPolicyMerge, cfg.Polling.TagPolicy)
	assert.False(t, cfg.Roster.Watch)
	require.NoError(t, cfg.Validate())
}

func TestFromEnvServerLists(t *testing.T) {
	assert.Equal(t, []string{"*"}, FromEnv().Server.CORSOrigins)
	assert.Equal(t, 60, FromEnv().Server.DetailsRate)

	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DETAILS_RATE_LIMIT", "0")

	cfg := FromEnv()
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 0, cfg.Server.DetailsRate)

	t.Setenv("CORS_ORIGINS", " , ")
	assert.Equal(t, []string{"*"}, FromEnv().Server.CORSOrigins)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("STATS_INTERVAL", "soon")

	cfg := FromEnv()

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Polling.StatsInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "empty websocket path",
			mutate:  func(c *Config) { c.Server.WebSocketPath = "" },
			wantErr: "WS_PATH",
		},
		{
			name:    "relative websocket path",
			mutate:  func(c *Config) { c.Server.WebSocketPath = "qbit-ws" },
			wantErr: "WS_PATH",
		},
		{
			name:    "timeout not shorter than poll interval",
			mutate:  func(c *Config) { c.QBittorrent.RequestTimeout = c.Polling.SyncInterval },
			wantErr: "must be shorter than POLL_INTERVAL",
		},
		{
			name:    "unknown tag policy",
			mutate:  func(c *Config) { c.Polling.TagPolicy = "append" },
			wantErr: "invalid tag policy",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "SERVER_PORT",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "missing roster file",
			mutate:  func(c *Config) { c.Roster.File = "" },
			wantErr: "ROSTER_FILE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestListenAddress(t *testing.T) {
	cfg := FromEnv()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9000

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddress())
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Tag merge policies understood by the state merger
const (
	TagPolicyReplace = "replace"
	TagPolicyMerge   = "merge"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `json:"server"`
	Polling     PollingConfig     `json:"polling"`
	QBittorrent QBittorrentConfig `json:"qbittorrent"`
	Cache       CacheConfig       `json:"cache"`
	Roster      RosterConfig      `json:"roster"`
	Logging     LoggingConfig     `json:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	WebSocketPath   string        `json:"websocket_path"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	PIDFile         string        `json:"pid_file"`
	CORSOrigins     []string      `json:"cors_origins"`
	DetailsRate     int           `json:"details_rate"` // torrent-details requests per minute per client
}

// PollingConfig holds the scheduler cadence
type PollingConfig struct {
	SyncInterval  time.Duration `json:"sync_interval"`  // fast cycle, torrents and server state
	StatsInterval time.Duration `json:"stats_interval"` // slow cycle, lifetime traffic totals
	TagPolicy     string        `json:"tag_policy"`
	ViewerBuffer  int           `json:"viewer_buffer"` // queued frames per viewer before frames are skipped
}

// QBittorrentConfig holds settings shared by every remote instance
type QBittorrentConfig struct {
	RequestTimeout  time.Duration `json:"request_timeout"`
	BreakerFailures int           `json:"breaker_failures"` // consecutive failures before the circuit opens
	BreakerCooldown time.Duration `json:"breaker_cooldown"`
}

// CacheConfig holds caching configuration
type CacheConfig struct {
	AuthSessionTTL  time.Duration `json:"auth_session_ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// RosterConfig points at the instance roster file
type RosterConfig struct {
	File  string `json:"file"`
	Watch bool   `json:"watch"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`    // megabytes
	MaxBackups int    `json:"max_backups"` // number of backup files
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`    // compress rotated files
	ToStdout   bool   `json:"to_stdout"`   // also log to stdout
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Missing .env is fine, system env vars still apply
		fmt.Fprintf(os.Stderr, "Warning: .env file not found, using system environment variables\n")
	}

	config := FromEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from the current environment without validating it
func FromEnv() *Config {
	config := &Config{}

	// Listener
	config.Server.Host = getEnvOrDefault("SERVER_HOST", "0.0.0.0")
	config.Server.Port = parseIntOrDefault("SERVER_PORT", 3000)
	config.Server.WebSocketPath = getEnvOrDefault("WS_PATH", "/qbit-ws")
	config.Server.ShutdownTimeout = parseDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	config.Server.PIDFile = getEnvOrDefault("PID_FILE", "qbitdash.pid")
	config.Server.CORSOrigins = parseListOrDefault("CORS_ORIGINS", []string{"*"})
	config.Server.DetailsRate = parseIntOrDefault("DETAILS_RATE_LIMIT", 60)

	// Scheduler
	config.Polling.SyncInterval = parseDurationOrDefault("POLL_INTERVAL", 2*time.Second)
	config.Polling.StatsInterval = parseDurationOrDefault("STATS_INTERVAL", 30*time.Second)
	config.Polling.TagPolicy = strings.ToLower(getEnvOrDefault("TAG_POLICY", TagPolicyReplace))
	config.Polling.ViewerBuffer = parseIntOrDefault("VIEWER_BUFFER", 16)

	// Remote instances
	config.QBittorrent.RequestTimeout = parseDurationOrDefault("QBIT_REQUEST_TIMEOUT", 1500*time.Millisecond)
	config.QBittorrent.BreakerFailures = parseIntOrDefault("BREAKER_MAX_FAILURES", 5)
	config.QBittorrent.BreakerCooldown = parseDurationOrDefault("BREAKER_COOLDOWN", 30*time.Second)

	// Sessions
	config.Cache.AuthSessionTTL = parseDurationOrDefault("CACHE_AUTH_SESSION_TTL", 1*time.Hour)
	config.Cache.CleanupInterval = parseDurationOrDefault("CACHE_CLEANUP_INTERVAL", 10*time.Minute)

	// Roster
	config.Roster.File = getEnvOrDefault("ROSTER_FILE", "data/config.json")
	config.Roster.Watch = parseBoolOrDefault("ROSTER_WATCH", true)

	// Logging
	config.Logging.Level = getEnvOrDefault("LOG_LEVEL", "info")
	config.Logging.File = getEnvOrDefault("LOG_FILE", "")
	config.Logging.MaxSize = parseIntOrDefault("LOG_MAX_SIZE", 100)
	config.Logging.MaxBackups = parseIntOrDefault("LOG_MAX_BACKUPS", 5)
	config.Logging.MaxAge = parseIntOrDefault("LOG_MAX_AGE", 30)
	config.Logging.Compress = parseBoolOrDefault("LOG_COMPRESS", true)
	config.Logging.ToStdout = parseBoolOrDefault("LOG_TO_STDOUT", true)

	return config
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got: %d", c.Server.Port)
	}

	// Without an upgrade path no viewer can ever connect
	if c.Server.WebSocketPath == "" || !strings.HasPrefix(c.Server.WebSocketPath, "/") {
		return fmt.Errorf("WS_PATH must be an absolute path, got: %q", c.Server.WebSocketPath)
	}

	if c.Polling.SyncInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be greater than 0")
	}

	if c.Polling.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be greater than 0")
	}

	if c.QBittorrent.RequestTimeout <= 0 {
		return fmt.Errorf("QBIT_REQUEST_TIMEOUT must be greater than 0")
	}

	if c.QBittorrent.RequestTimeout >= c.Polling.SyncInterval {
		return fmt.Errorf("QBIT_REQUEST_TIMEOUT (%s) must be shorter than POLL_INTERVAL (%s)",
			c.QBittorrent.RequestTimeout, c.Polling.SyncInterval)
	}

	if c.Polling.TagPolicy != TagPolicyReplace && c.Polling.TagPolicy != TagPolicyMerge {
		return fmt.Errorf("invalid tag policy: %s (must be one of: %s, %s)", c.Polling.TagPolicy, TagPolicyReplace, TagPolicyMerge)
	}

	if c.Polling.ViewerBuffer < 1 {
		return fmt.Errorf("VIEWER_BUFFER must be at least 1, got: %d", c.Polling.ViewerBuffer)
	}

	if c.Cache.AuthSessionTTL <= 0 {
		return fmt.Errorf("CACHE_AUTH_SESSION_TTL must be greater than 0")
	}

	if c.Roster.File == "" {
		return fmt.Errorf("ROSTER_FILE is required")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: trace, debug, info, warn, error, fatal, panic)", c.Logging.Level)
	}

	return nil
}

// ListenAddress returns host:port for the HTTP listener
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

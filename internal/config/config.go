package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version     string            `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Riot        RiotConfig        `yaml:"riot"`
	Cache       CacheConfig       `yaml:"cache"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Telegram    TelegramConfig    `yaml:"telegram"`
}

// ServerConfig contains the admin HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
}

// DatabaseConfig contains credential store configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EncryptionConfig carries the symmetric keys protecting token material.
// Keys is a comma-separated list of base64-encoded 32-byte keys; the last
// key in the list is the active encryption key. Keys are read once at
// startup and never reloaded.
type EncryptionConfig struct {
	Keys string `yaml:"keys"`
}

// KeyBytes decodes the configured keys, oldest first.
func (e *EncryptionConfig) KeyBytes() ([][]byte, error) {
	raw := strings.TrimSpace(e.Keys)
	if raw == "" {
		return nil, fmt.Errorf("encryption keys are required")
	}

	parts := strings.Split(raw, ",")
	keys := make([][]byte, 0, len(parts))
	for i, part := range parts {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("key[%d]: not valid base64: %w", i, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key[%d]: must be 32 bytes, got %d", i, len(key))
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// RiotConfig contains upstream identity provider configuration.
type RiotConfig struct {
	// Region is the auth region, Shard the player-data shard (eu, na, ap, kr).
	Region         string        `yaml:"region"`
	Shard          string        `yaml:"shard"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// MFATimeout bounds how long the front end may take to collect a
	// one-time code before the login attempt is abandoned.
	MFATimeout time.Duration `yaml:"mfa_timeout"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	// TTLs maps operation names to cache validity windows. Operations not
	// listed fall back to their built-in defaults.
	TTLs map[string]time.Duration `yaml:"ttls"`
	// FlushTime is the daily cache flush time in "HH:MM" (24h).
	FlushTime string `yaml:"flush_time"`
	Timezone  string `yaml:"timezone"`
	// RequestsPerSecond paces outbound authenticated calls.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MaintenanceConfig contains background task configuration.
type MaintenanceConfig struct {
	// VersionCheckTimes are the fixed daily times ("HH:MM") at which the
	// client-version fingerprint is refreshed.
	VersionCheckTimes []string `yaml:"version_check_times"`
}

// TelegramConfig contains bot front-end configuration.
type TelegramConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BotToken          string `yaml:"bot_token"`
	MessagesPerMinute int    `yaml:"messages_per_minute"`
}

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if _, err := c.Encryption.KeyBytes(); err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	if err := c.Riot.Validate(); err != nil {
		return fmt.Errorf("riot: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Maintenance.Validate(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if err := c.Telegram.Validate(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.HTTPPort == 0 {
		s.HTTPPort = 8472
	}
	if s.HTTPPort < 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	return nil
}

// Validate validates database configuration.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		d.Path = "./data/valorwatch.db"
	}
	return nil
}

// Validate validates riot configuration.
func (r *RiotConfig) Validate() error {
	if r.Region == "" {
		r.Region = "eu"
	}
	if r.Shard == "" {
		r.Shard = r.Region
	}
	if r.RequestTimeout <= 0 {
		r.RequestTimeout = 15 * time.Second
	}
	if r.MFATimeout <= 0 {
		r.MFATimeout = 2 * time.Minute
	}
	return nil
}

// Validate validates cache configuration.
func (c *CacheConfig) Validate() error {
	if c.FlushTime == "" {
		c.FlushTime = "04:00"
	}
	if err := validateClock(c.FlushTime); err != nil {
		return fmt.Errorf("flush_time: %w", err)
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	for op, ttl := range c.TTLs {
		if ttl <= 0 {
			return fmt.Errorf("ttls[%s]: must be positive", op)
		}
	}
	return nil
}

// Validate validates maintenance configuration.
func (m *MaintenanceConfig) Validate() error {
	if len(m.VersionCheckTimes) == 0 {
		m.VersionCheckTimes = []string{"05:30", "17:30"}
	}
	for _, t := range m.VersionCheckTimes {
		if err := validateClock(t); err != nil {
			return fmt.Errorf("version_check_times: %w", err)
		}
	}
	return nil
}

// Validate validates telegram configuration.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.BotToken == "" {
		return fmt.Errorf("bot_token is required when telegram is enabled")
	}
	if t.MessagesPerMinute <= 0 {
		t.MessagesPerMinute = 20
	}
	return nil
}

func validateClock(v string) error {
	if _, err := time.Parse("15:04", v); err != nil {
		return fmt.Errorf("%q is not a valid HH:MM time", v)
	}
	return nil
}

package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 32))
}

func validConfig() Config {
	return Config{
		Version: "1.0",
		Server: ServerConfig{
			Host:     "127.0.0.1",
			HTTPPort: 8472,
		},
		Encryption: EncryptionConfig{Keys: testKey()},
		Riot:       RiotConfig{Region: "eu"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing version",
			mutate:  func(c *Config) { c.Version = "" },
			wantErr: "version is required",
		},
		{
			name:    "missing encryption keys",
			mutate:  func(c *Config) { c.Encryption.Keys = "" },
			wantErr: "encryption",
		},
		{
			name:    "short encryption key",
			mutate:  func(c *Config) { c.Encryption.Keys = base64.StdEncoding.EncodeToString([]byte("short")) },
			wantErr: "32 bytes",
		},
		{
			name:    "bad flush time",
			mutate:  func(c *Config) { c.Cache.FlushTime = "25:99" },
			wantErr: "flush_time",
		},
		{
			name:    "bad version check time",
			mutate:  func(c *Config) { c.Maintenance.VersionCheckTimes = []string{"noon"} },
			wantErr: "version_check_times",
		},
		{
			name:    "telegram enabled without token",
			mutate:  func(c *Config) { c.Telegram.Enabled = true },
			wantErr: "bot_token",
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.Cache.TTLs = map[string]time.Duration{"wallet": -time.Second} },
			wantErr: "must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "./data/valorwatch.db", cfg.Database.Path)
	assert.Equal(t, "eu", cfg.Riot.Shard)
	assert.Equal(t, 2*time.Minute, cfg.Riot.MFATimeout)
	assert.Equal(t, "04:00", cfg.Cache.FlushTime)
	assert.Equal(t, []string{"05:30", "17:30"}, cfg.Maintenance.VersionCheckTimes)
	assert.Equal(t, 5.0, cfg.Cache.RequestsPerSecond)
}

func TestEncryptionConfig_KeyBytes(t *testing.T) {
	k1 := base64.StdEncoding.EncodeToString(make([]byte, 32))
	k2raw := make([]byte, 32)
	k2raw[0] = 0xFF
	k2 := base64.StdEncoding.EncodeToString(k2raw)

	e := EncryptionConfig{Keys: k1 + ", " + k2}
	keys, err := e.KeyBytes()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, byte(0xFF), keys[1][0])
}

func TestParse(t *testing.T) {
	yaml := `
version: "1.0"
server:
  host: 0.0.0.0
  http_port: 9000
encryption:
  keys: "` + testKey() + `"
riot:
  region: na
cache:
  ttls:
    wallet: 30s
    bundles: 12h
`
	cfg, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "na", cfg.Riot.Region)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTLs["wallet"])
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTLs["bundles"])
}

func TestLoader_LoadAndEnvSubstitution(t *testing.T) {
	t.Setenv("VW_TEST_KEY", testKey())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
version: "1.0"
encryption:
  keys: "${VW_TEST_KEY}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	keys, err := cfg.Encryption.KeyBytes()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Same(t, cfg, loader.Get())
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	base := `
version: "1.0"
encryption:
  keys: "` + testKey() + `"
cache:
  ttls:
    wallet: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(base), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	loader.SetOnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())
	defer loader.Stop()

	updated := `
version: "1.0"
encryption:
  keys: "` + testKey() + `"
cache:
  ttls:
    wallet: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-changed:
		assert.Equal(t, 45*time.Second, cfg.Cache.TTLs["wallet"])
	case <-time.After(5 * time.Second):
		t.Fatal("config reload was not observed")
	}
}

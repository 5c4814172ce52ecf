package imagecache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_SetDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 100, cfg.MemoryLimit)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultMaxConcurrentFetches, cfg.MaxConcurrentFetches)
	assert.Equal(t, int64(DefaultMaxBodyBytes), cfg.MaxBodyBytes)
	assert.NotEmpty(t, cfg.UserAgent)
	assert.Zero(t, cfg.RateLimit.RPS)

	limited := Config{RateLimit: RateLimitConfig{RPS: 5}}
	limited.SetDefaults()
	assert.Equal(t, 1, limited.RateLimit.Burst)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "base url", modify: func(c *Config) { c.BaseURL = "https://images.example.com/dynamic/" }},
		{name: "negative memory limit", modify: func(c *Config) { c.MemoryLimit = -1 }, wantErr: true},
		{name: "negative timeout", modify: func(c *Config) { c.Timeout = -time.Second }, wantErr: true},
		{name: "negative concurrency", modify: func(c *Config) { c.MaxConcurrentFetches = -2 }, wantErr: true},
		{name: "negative body limit", modify: func(c *Config) { c.MaxBodyBytes = -1 }, wantErr: true},
		{name: "negative burst", modify: func(c *Config) { c.RateLimit.Burst = -1 }, wantErr: true},
		{name: "relative base url", modify: func(c *Config) { c.BaseURL = "/dynamic/" }, wantErr: true},
		{name: "unknown log level", modify: func(c *Config) { c.LogLevel = "verbose" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imagecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
memory_limit: 50
directory: /var/cache/images
timeout: 10s
base_url: https://images.example.com/dynamic/480x360c/
rate_limit:
  rps: 20
  burst: 4
`), 0o644))

	t.Setenv("IMAGECACHE_MEMORY_LIMIT", "75")
	t.Setenv("IMAGECACHE_RATE_LIMIT_BURST", "8")
	t.Setenv("IMAGECACHE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.MemoryLimit)
	assert.Equal(t, "/var/cache/images", cfg.Directory)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "https://images.example.com/dynamic/480x360c/", cfg.BaseURL)
	assert.Equal(t, 20.0, cfg.RateLimit.RPS)
	assert.Equal(t, 8, cfg.RateLimit.Burst)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultMaxConcurrentFetches, cfg.MaxConcurrentFetches)
}

func TestLoadConfig_EnvOnly(t *testing.T) {
	t.Setenv("IMAGECACHE_TIMEOUT", "5s")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, DefaultMemoryLimit, cfg.MemoryLimit)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	malformed := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("memory_limit: [1, 2"), 0o644))
	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("memory_limit: -5\n"), 0o644))

	tests := []struct {
		name string
		path string
		env  map[string]string
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.yaml")},
		{name: "malformed yaml", path: malformed},
		{name: "invalid value", path: invalid},
		{name: "malformed env", env: map[string]string{"IMAGECACHE_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(tt.path)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
		})
	}
}

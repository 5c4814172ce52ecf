package imagecache

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/go/imagecache/internal/fetch"
	"github.com/jmgilman/go/imagecache/internal/memory"
	"github.com/jmgilman/go/imagecache/internal/telemetry"
	"github.com/jmgilman/go/imagecache/internal/validate"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "IMAGECACHE_"

// Defaults applied by SetDefaults.
const (
	DefaultMemoryLimit          = memory.DefaultLimit
	DefaultTimeout              = 30 * time.Second
	DefaultMaxConcurrentFetches = 8
	DefaultMaxBodyBytes         = fetch.DefaultMaxBodyBytes
)

// Config holds the tunables of a Cache. It can be decoded from YAML and
// overlaid with IMAGECACHE_* environment variables.
type Config struct {
	// MemoryLimit is the maximum number of images held in memory.
	MemoryLimit int `yaml:"memory_limit" env:"MEMORY_LIMIT"`

	// Directory holds saved images. Defaults to imagecache under the user
	// cache directory.
	Directory string `yaml:"directory" env:"DIRECTORY"`

	// Timeout bounds every network operation.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// MaxConcurrentFetches caps downloads running at once across locators.
	MaxConcurrentFetches int `yaml:"max_concurrent_fetches" env:"MAX_CONCURRENT_FETCHES"`

	// MaxBodyBytes caps the size of a downloaded image.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	// BaseURL resolves relative remote locators.
	BaseURL string `yaml:"base_url" env:"BASE_URL"`

	// UserAgent is sent with every download.
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`

	// RateLimit throttles downloads per host. Zero RPS disables it.
	RateLimit RateLimitConfig `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`

	// LogLevel enables a stderr logger when no logger is supplied.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// RateLimitConfig configures per-host download throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields with their defaults.
func (c *Config) SetDefaults() {
	if c.MemoryLimit == 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxConcurrentFetches == 0 {
		c.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = fetch.DefaultUserAgent
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MemoryLimit < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "memory limit cannot be negative: %d", c.MemoryLimit)
	}
	if c.Timeout < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "timeout cannot be negative: %v", c.Timeout)
	}
	if c.MaxConcurrentFetches < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "max concurrent fetches cannot be negative: %d", c.MaxConcurrentFetches)
	}
	if c.MaxBodyBytes < 0 {
		return errors.Newf(errors.CodeInvalidConfig, "max body bytes cannot be negative: %d", c.MaxBodyBytes)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return errors.New(errors.CodeInvalidConfig, "rate limit cannot be negative")
	}
	if _, err := validate.NewLocatorResolver(c.BaseURL); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid base URL")
	}
	if _, err := telemetry.ParseLogLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, errors.CodeInvalidConfig, "invalid log level")
	}
	return nil
}

// LoadConfig reads the YAML file at path, when non-empty, overlays
// IMAGECACHE_* environment variables, applies defaults and validates the
// result.
func LoadConfig(path string) (Config, error) {
	var c Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to read config file %q", path)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to parse config file %q", path)
		}
	}

	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse environment")
	}

	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

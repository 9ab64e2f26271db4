// Package config provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the linechat service.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
)

// Credential backends understood by the store.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// RateLimitConfig defines the parameters for per-session message rate limiting.
// A zero Burst disables the limiter.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" envDefault:"0"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"console"`
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
}

// Config holds the server configuration settings.
type Config struct {
	// Addr is the TCP address the chat acceptor binds to.
	Addr string `env:"SERVER_ADDR" envDefault:":12345"`
	// HTTPAddr serves health, metrics and the WebSocket gateway. Empty disables it.
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`

	// AllowMissingOrigin admits WebSocket upgrades that carry no Origin header.
	AllowMissingOrigin bool `env:"ALLOW_MISSING_ORIGIN" envDefault:"false"`

	CredentialsBackend string `env:"CREDENTIALS_BACKEND" envDefault:"file"`
	CredentialsPath    string `env:"CREDENTIALS_PATH" envDefault:"users.txt"`
	PasswordScheme     string `env:"PASSWORD_SCHEME" envDefault:"bcrypt"`
	BcryptCost         int    `env:"BCRYPT_COST" envDefault:"10"`

	MaxConnections  int           `env:"MAX_CONNECTIONS" envDefault:"1024"`
	MaxLineBytes    int           `env:"MAX_LINE_BYTES" envDefault:"4096"`
	SendQueueSize   int           `env:"SEND_QUEUE_SIZE" envDefault:"256"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"0s"`
	MaxAuthAttempts int           `env:"MAX_AUTH_ATTEMPTS" envDefault:"0"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	RateLimit RateLimitConfig
	Log       LogConfig
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	cfg := &Config{}
	// Defaults come from struct tags; parsing an empty environment cannot fail.
	_ = env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}})
	return cfg
}

// FromEnv creates a Config from environment variables, falling back to the
// defaults for unset values, and sanitizes the result.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parse env")
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Sanitize replaces out-of-range values with defaults and rejects values that
// cannot be repaired.
func (c *Config) Sanitize() error {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = ":12345"
	}

	if c.MaxConnections <= 0 {
		c.MaxConnections = 1024
	}

	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = 4096
	}

	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}

	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}

	if c.MaxAuthAttempts < 0 {
		c.MaxAuthAttempts = 0
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}

	if c.RateLimit.Burst < 0 {
		c.RateLimit.Burst = 0
	}

	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = time.Second
	}

	c.AllowedOrigins = trimOrigins(c.AllowedOrigins)

	c.CredentialsBackend = strings.ToLower(strings.TrimSpace(c.CredentialsBackend))
	switch c.CredentialsBackend {
	case "":
		c.CredentialsBackend = BackendFile
	case BackendFile, BackendSQLite:
	default:
		return errors.Newf("unknown credentials backend %q", c.CredentialsBackend)
	}

	if strings.TrimSpace(c.CredentialsPath) == "" {
		return errors.New("credentials path is required")
	}

	return nil
}

func trimOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

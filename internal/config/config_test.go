package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":12345", cfg.Addr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, BackendFile, cfg.CredentialsBackend)
	assert.Equal(t, "users.txt", cfg.CredentialsPath)
	assert.Equal(t, "bcrypt", cfg.PasswordScheme)
	assert.Zero(t, cfg.RateLimit.Burst, "rate limiting is opt-in")
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.False(t, cfg.AllowMissingOrigin)
	assert.Zero(t, cfg.IdleTimeout)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , ,http://b.example")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("IDLE_TIMEOUT", "90s")
	t.Setenv("CREDENTIALS_BACKEND", "SQLite")
	t.Setenv("ALLOW_MISSING_ORIGIN", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 90*time.Second, cfg.IdleTimeout)
	assert.Equal(t, BackendSQLite, cfg.CredentialsBackend)
	assert.True(t, cfg.AllowMissingOrigin)
}

func TestFromEnvInvalidDuration(t *testing.T) {
	t.Setenv("IDLE_TIMEOUT", "soon")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestSanitize(t *testing.T) {
	cfg := &Config{
		CredentialsPath: "users.txt",
		MaxConnections:  -1,
		IdleTimeout:     -time.Second,
		MaxAuthAttempts: -3,
		RateLimit:       RateLimitConfig{Burst: -2},
	}

	require.NoError(t, cfg.Sanitize())
	assert.Equal(t, ":12345", cfg.Addr)
	assert.Equal(t, 1024, cfg.MaxConnections)
	assert.Equal(t, 4096, cfg.MaxLineBytes)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Zero(t, cfg.IdleTimeout)
	assert.Zero(t, cfg.MaxAuthAttempts)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Zero(t, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, BackendFile, cfg.CredentialsBackend)
}

func TestSanitizeRejects(t *testing.T) {
	cfg := Default()
	cfg.CredentialsBackend = "postgres"
	require.Error(t, cfg.Sanitize())

	cfg = Default()
	cfg.CredentialsPath = "  "
	require.Error(t, cfg.Sanitize())
}

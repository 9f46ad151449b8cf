package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 2*time.Second, cfg.Queue.InitialDelay)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compliance.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
breaker:
  failure_threshold: 3
  cooldown: 30s
authority:
  sandbox_url: "https://sandbox.example/ws"
redis:
  addr: "localhost:6379"
`), 0o600))

	t.Setenv("COMPLIANCE_BREAKER_COOLDOWN", "45s")
	t.Setenv("COMPLIANCE_RETRY_MAX_RETRIES", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, "https://sandbox.example/ws", cfg.AuthorityConfig().SandboxURL)

	q := cfg.QueueConfig()
	assert.Equal(t, "localhost:6379", q.RedisAddr)
	assert.Equal(t, 5, q.MaxAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "failure threshold", mutate: func(c *config.Config) { c.Breaker.FailureThreshold = 0 }},
		{name: "success threshold", mutate: func(c *config.Config) { c.Breaker.SuccessThreshold = 0 }},
		{name: "multiplier", mutate: func(c *config.Config) { c.Retry.Multiplier = 0.5 }},
		{name: "negative delay", mutate: func(c *config.Config) { c.Retry.InitialDelay = -time.Second }},
		{name: "max attempts", mutate: func(c *config.Config) { c.Queue.MaxAttempts = 0 }},
		{name: "address", mutate: func(c *config.Config) { c.Server.Address = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "serve"

[server]
port = 9100
rate_window = "30s"

[postgres]
database = "foresight_test"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, "foresight_test", cfg.Postgres.Database)
	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 15*time.Minute, cfg.Pipeline.LightweightInterval.Duration)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, `mode = "serve"`)

	t.Setenv("FORESIGHT_POSTGRES_PASSWORD", "sekret")
	t.Setenv("FORESIGHT_SERVER_PORT", "9200")
	t.Setenv("FORESIGHT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("FORESIGHT_SYNTHESIS_CACHE_TTL", "5m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sekret", cfg.Postgres.Password)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Synthesis.CacheTTL.Duration)
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "batch"
	cfg.LogLevel = "loud"
	cfg.Server.Port = 0
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "batch"`)
	assert.Contains(t, err.Error(), `unknown log_level "loud"`)
	assert.Contains(t, err.Error(), "port must be 1-65535")
	assert.Contains(t, err.Error(), "redis: addr must not be empty")
}

func TestValidateRequiresOpenAIKeyForAnalysis(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.OpenAI.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai: api_key is required")

	cfg.Mode = "serve"
	assert.NoError(t, cfg.Validate())
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "dbpass"
	cfg.OpenAI.APIKey = "sk-live"
	cfg.Notify.TelegramToken = "tok"
	cfg.Mode = "serve"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.OpenAI.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// Original untouched.
	assert.Equal(t, "dbpass", cfg.Postgres.Password)

	// Slice copies are defensive.
	red.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, 150, cfg.Pipeline.WordsPerMinute)
	assert.Equal(t, 45, cfg.Pipeline.DefaultDuration)
	assert.Equal(t, 3, cfg.Providers.MaxAttempts)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.True(t, cfg.Worker.Embedded)
	assert.Equal(t, 30, cfg.Worker.StageTimeoutMinutes)
	assert.Equal(t, 15, cfg.Worker.StaleMinutes)
	assert.True(t, cfg.Providers.Google.Enabled)
	assert.False(t, cfg.Providers.Mock.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("WORKER_EMBEDDED", "false")
	t.Setenv("WORKER_STAGE_TIMEOUT_MINUTES", "90")
	t.Setenv("PIPELINE_WORDS_PER_MINUTE", "120")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.False(t, cfg.Worker.Embedded)
	assert.Equal(t, 90, cfg.Worker.StageTimeoutMinutes)
	assert.Equal(t, 120, cfg.Pipeline.WordsPerMinute)
	assert.Equal(t, "sk-test", cfg.Providers.OpenAI.APIKey)
}

func TestLoad_SecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))

	// empty value so the cleanup restores whatever readSecret sets
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWT.Secret)
}

func TestLoad_DirectValueWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt_secret")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))

	t.Setenv("JWT_SECRET", "direct")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "direct", cfg.JWT.Secret)
}

func TestServerConfig_IsDevelopment(t *testing.T) {
	assert.True(t, ServerConfig{Env: "development"}.IsDevelopment())
	assert.True(t, ServerConfig{Env: "TEST"}.IsDevelopment())
	assert.False(t, ServerConfig{Env: "production"}.IsDevelopment())
}

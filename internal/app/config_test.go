package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfigDefaultsFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET_KEY", "super-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "openai", cfg.AIProvider)
	assert.Equal(t, 0.7, cfg.AITemperature)
	assert.Equal(t, 2000, cfg.AIMaxTokens)
	assert.Equal(t, 120*time.Second, cfg.AITimeout)
	assert.Equal(t, 3, cfg.EnrichMaxAttempts)
	assert.Equal(t, 300*time.Second, cfg.EnrichRetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 72*time.Hour, cfg.ActivationTTL)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("JWT_SECRET_KEY", "super-secret")
	t.Setenv("AI_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("ENRICH_RETRY_DELAY", "30s")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("PORT", "9090")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.AIProvider)
	assert.Equal(t, 30*time.Second, cfg.EnrichRetryDelay)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	body := "jwt_secret_key: from-file-secret\nworker_concurrency: 2\nredis_addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-file-secret", cfg.JWTSecretKey)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadConfigValidation(t *testing.T) {
	chdirTemp(t)

	t.Run("missing jwt secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET_KEY", "")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("provider key required", func(t *testing.T) {
		t.Setenv("JWT_SECRET_KEY", "super-secret")
		t.Setenv("AI_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Setenv("JWT_SECRET_KEY", "super-secret")
		t.Setenv("AI_PROVIDER", "llama")
		_, err := LoadConfig("")
		assert.Error(t, err)
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		t.Setenv("JWT_SECRET_KEY", "super-secret")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		_, err := LoadConfig("does-not-exist.yaml")
		assert.Error(t, err)
	})
}

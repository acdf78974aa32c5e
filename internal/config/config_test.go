package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// Save current env and restore later
	origHost := os.Getenv("DB_HOST")
	defer os.Setenv("DB_HOST", origHost)

	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_MAX_OPEN_CONNS", "20")
	os.Setenv("MINIO_USE_SSL", "true")
	os.Setenv("WEBHOOK_TOKEN", "secret")
	os.Setenv("GATEWAY_BASE_URL", "https://api.gateway.test")
	os.Setenv("GATEWAY_TIMEOUT_SEC", "5")
	os.Setenv("TSA_AUTHORITIES", "https://tsa1.test/tsr, https://tsa2.test/tsr")
	os.Setenv("PIPELINE_MAX_ATTEMPTS", "5")
	defer func() {
		os.Unsetenv("WEBHOOK_TOKEN")
		os.Unsetenv("GATEWAY_BASE_URL")
		os.Unsetenv("GATEWAY_TIMEOUT_SEC")
		os.Unsetenv("TSA_AUTHORITIES")
		os.Unsetenv("PIPELINE_MAX_ATTEMPTS")
	}()

	cfg := Load()

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.Equal(t, "secret", cfg.Webhook.Token)
	assert.Equal(t, "https://api.gateway.test", cfg.Gateway.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, []string{"https://tsa1.test/tsr", "https://tsa2.test/tsr"}, cfg.TSA.Authorities)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
}

func TestGetEnv(t *testing.T) {
	key := "TEST_ENV_VAR"
	os.Setenv(key, "value")
	defer os.Unsetenv(key)

	assert.Equal(t, "value", getEnv(key, "default"))
	assert.Equal(t, "default", getEnv("NON_EXISTENT", "default"))
}

func TestGetEnvBool(t *testing.T) {
	key := "TEST_BOOL_VAR"

	os.Setenv(key, "true")
	assert.True(t, getEnvBool(key, false))

	os.Setenv(key, "false")
	assert.False(t, getEnvBool(key, true))

	os.Setenv(key, "invalid")
	assert.True(t, getEnvBool(key, true))

	os.Unsetenv(key)
	assert.True(t, getEnvBool(key, true))
}

func TestGetEnvInt(t *testing.T) {
	key := "TEST_INT_VAR"

	os.Setenv(key, "123")
	assert.Equal(t, 123, getEnvInt(key, 0))

	os.Setenv(key, "invalid")
	assert.Equal(t, 10, getEnvInt(key, 10))

	os.Unsetenv(key)
	assert.Equal(t, 10, getEnvInt(key, 10))
}

func TestGetEnvList(t *testing.T) {
	key := "TEST_LIST_VAR"

	os.Setenv(key, "a,b , c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList(key, nil))

	os.Setenv(key, " , ,")
	assert.Equal(t, []string{"fallback"}, getEnvList(key, []string{"fallback"}))

	os.Unsetenv(key)
	assert.Nil(t, getEnvList(key, nil))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
device:
  dev_eui: "0807060504030201"
  join_eui: "0102030405060708"
  app_key: "000102030405060708090a0b0c0d0e0f"
  join_attempts: 5
region:
  name: AS923-2
jwt:
  secret: test-secret
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0807060504030201", cfg.Device.DevEUI)
	assert.Equal(t, 5, cfg.Device.JoinAttempts)
	assert.Equal(t, "AS923-2", cfg.Region.Name)
	assert.Equal(t, "debug", cfg.Log.Level)

	// defaults fill the gaps
	assert.Equal(t, 10*time.Second, cfg.Device.JoinBackoff)
	assert.Equal(t, 8090, cfg.API.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, time.Hour, cfg.JWT.AccessTokenTTL)
}

func TestLoadRejectsBadIdentity(t *testing.T) {
	path := writeConfig(t, `
device:
  dev_eui: "0807"
  join_eui: "0102030405060708"
  app_key: "000102030405060708090a0b0c0d0e0f"
jwt:
  secret: x
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	path := writeConfig(t, `
device:
  dev_eui: "0807060504030201"
  join_eui: "0102030405060708"
  app_key: "000102030405060708090a0b0c0d0e0f"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeConfig(t, `
device:
  dev_eui: "0807060504030201"
  join_eui: "0102030405060708"
  app_key: "000102030405060708090a0b0c0d0e0f"
jwt:
  secret: test-secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

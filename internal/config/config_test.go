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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadShippedConfig(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY", "minio-ak")
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Backup.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Backup.AttemptTimeout)
	assert.Equal(t, 2*time.Second, cfg.Backup.RetryBackoffBase)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "minio-ak", cfg.Storage.Minio.AccessKey)
	assert.Equal(t, "${MINIO_SECRET_KEY}", cfg.Storage.Minio.SecretKey)
	assert.Contains(t, cfg.Backup.ErrorHints, "% invalid input")
	assert.Equal(t, 3, cfg.Diff.ContextLines)
	assert.Empty(t, cfg.Security.EncryptionKey)
	assert.Same(t, cfg, Get())
}

func TestEncryptionKeyFromEnv(t *testing.T) {
	t.Setenv("CONFBACKUP_SECURITY_ENCRYPTION_KEY", "from-env")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Security.EncryptionKey)

	t.Setenv("CONFBACKUP_SECURITY_ENCRYPTION_KEY", "")
	t.Setenv("DEVICE_KEY", "expanded")
	cfg, err = Load(writeConfig(t, "security:\n  encryption_key: \"${DEVICE_KEY}\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "expanded", cfg.Security.EncryptionKey)
}

func TestLoadDefaultsAndEnvOverride(t *testing.T) {
	t.Setenv("CONFBACKUP_BACKUP_MAX_CONCURRENT", "4")
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Backup.MaxConcurrent)
	assert.Equal(t, "show running-config", cfg.Backup.DefaultCommand)
	assert.Equal(t, 5*time.Minute, cfg.Backup.MaxRunningDuration)
	assert.Equal(t, "0.0.0.0:9090", cfg.GetServerAddr())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"max_retries":    "backup:\n  max_retries: 0\n",
		"max_concurrent": "backup:\n  max_concurrent: 0\n",
		"backend":        "storage:\n  backend: ftp\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 10, cfg.Backup.MaxConcurrent)
	assert.Equal(t, []string{"terminal length 0"}, cfg.SSH.DisablePagingCmds)
	assert.Equal(t, int64(1024*1024), cfg.Diff.MaxBytes)
	assert.NoError(t, cfg.Validate())
}

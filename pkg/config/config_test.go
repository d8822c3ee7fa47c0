package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "/media", cfg.Server.StaticLink)
	assert.Equal(t, int64(30*1024*1024), cfg.Quota.MaxFileSize)
	assert.Equal(t, int64(100*1024*1024), cfg.Quota.DefaultQuota)
	assert.Equal(t, 10, cfg.Quota.FilesLimit)
	assert.Equal(t, 10*time.Second, cfg.Quota.TimeWindow)
	assert.Equal(t, 256, cfg.Thumbs.Size)
	assert.Equal(t, 1536, cfg.Thumbs.MaxAvatarSize)
	assert.NotEmpty(t, cfg.Thumbs.AvatarSizes)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenLifetime)
	assert.Equal(t, 90*time.Second, cfg.Auth.CodeLifetime)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: "9090"
storage:
  path: /srv/gallery
quota:
  max_file_size: 1048576
  files_limit: 3
thumbs:
  size: 128
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "/srv/gallery", cfg.Storage.Path)
	assert.Equal(t, int64(1048576), cfg.Quota.MaxFileSize)
	assert.Equal(t, 3, cfg.Quota.FilesLimit)
	assert.Equal(t, 128, cfg.Thumbs.Size)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields still fall back to defaults.
	assert.Equal(t, int64(100*1024*1024), cfg.Quota.DefaultQuota)
	assert.Equal(t, "/media", cfg.Server.StaticLink)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	_, err := Load()
	assert.Error(t, err)
}

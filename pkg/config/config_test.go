package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8088", cfg.ListenAddr())
	assert.Equal(t, int64(100<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.PurgeDeleted)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host: 127.0.0.1
port: 9000
node_id: odc
max_upload_bytes: 1048576
poll_interval: 5s
purge_deleted: true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr())
	assert.Equal(t, "odc", cfg.NodeID)
	assert.Equal(t, int64(1<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 5*time.Second, cfg.PollInterval.Std())
	assert.True(t, cfg.PurgeDeleted)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVICE_HOST", "10.0.0.5")
	t.Setenv("SERVICE_PORT", "8123")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8123", cfg.ListenAddr())
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("SERVICE_PORT", "not-a-port")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.PollInterval = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MaxUploadBytes = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.MetadataPath = ""
	assert.Error(t, cfg.Validate())
}

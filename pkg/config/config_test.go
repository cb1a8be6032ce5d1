package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLoadsYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 8090
  mode: debug
  api_key: secret
redis:
  addr: localhost:6379
pool:
  heartbeat_interval: 5
  suspect_threshold: 3
  dead_threshold: 6
session:
  idle_timeout: 120
  expire_timeout: 900
  max_queue_depth: 4
dispatch:
  request_timeout: 30
logger:
  level: debug
  output: console
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Init())
	assert.Equal(t, 8090, GlobalConfig.Server.Port)
	assert.Equal(t, "secret", GlobalConfig.Server.APIKey)
	assert.Equal(t, 5, GlobalConfig.Pool.HeartbeatInterval)
	assert.Equal(t, 6, GlobalConfig.Pool.DeadThreshold)
	assert.Equal(t, 4, GlobalConfig.Session.MaxQueueDepth)
	assert.Equal(t, 30, GlobalConfig.Dispatch.RequestTimeout)
	// Unset values take defaults
	assert.Equal(t, 600, GlobalConfig.Session.ReuseGrace)
	assert.Equal(t, 1, GlobalConfig.Pool.DefaultCapacity)
}

func TestValidateRejectsBadSpawnerRange(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Spawner.Enabled = true
	cfg.Spawner.Command = []string{"worker", "--port", "{port}"}
	cfg.Spawner.PortStart = 9000
	cfg.Spawner.PortEnd = 9000

	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = -1
	assert.Error(t, cfg.Validate())
}

package reactor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFixture(t, "reactor.yaml", `
global:
  log_level: debug
  rlimit_nofile: 4096
server:
  name: echo
  address: ":9000"
  reuse_port: true
  thread_num: 4
clients:
  - name: upstream
    address: "127.0.0.1:9001"
    enable_retry: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, uint64(4096), cfg.Global.RlimitNofile)
	assert.Equal(t, "echo", cfg.Server.Name)
	assert.Equal(t, "tcp", cfg.Server.Net) // defaulted by validateConfig
	assert.True(t, cfg.Server.ReusePort)
	assert.Equal(t, 4, cfg.Server.ThreadNum)
	require.Len(t, cfg.Client, 1)
	assert.Equal(t, "tcp", cfg.Client[0].Net)
	assert.True(t, cfg.Client[0].EnableRetry)
}

func TestLoadConfigTOML(t *testing.T) {
	path := writeFixture(t, "reactor.toml", `
[global]
log_level = "info"

[server]
name = "echo"
address = ":9000"
net = "tcp4"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, "tcp4", cfg.Server.Net) // explicit net is not overridden
}

func TestLoadConfigUnrecognizedExtension(t *testing.T) {
	path := writeFixture(t, "reactor.json", `{}`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := writeFixture(t, "broken.yaml", "server: [this is not a map")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidateConfigDefaultsClientNet(t *testing.T) {
	cfg := &Config{Client: []ClientConfig{{Address: "127.0.0.1:1"}, {Address: "127.0.0.1:2", Net: "unix"}}}
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, "tcp", cfg.Client[0].Net)
	assert.Equal(t, "unix", cfg.Client[1].Net)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) []string {
	return []string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CAP_NODE_NAME", "cap-dashboard")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Discovery.DiscoveryServerHostName)
	assert.Equal(t, 8500, cfg.Discovery.DiscoveryServerPort)
	assert.Equal(t, "http", cfg.Discovery.CurrentNodeScheme)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.False(t, cfg.Kubernetes.Enabled)

	_, err = uuid.Parse(cfg.Discovery.NodeID)
	assert.NoError(t, err, "node id should default to a uuid")
	assert.NotEmpty(t, cfg.Discovery.CurrentNodeHostName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CAP_NODE_NAME", "cap-dashboard")
	t.Setenv("CAP_NODE_ID", "Dash-01")
	t.Setenv("CAP_DISCOVERY_SERVER_HOSTNAME", "consul.service")
	t.Setenv("CAP_DISCOVERY_SERVER_PORT", "8501")
	t.Setenv("CAP_CURRENT_NODE_HOSTNAME", "10.0.0.9")
	t.Setenv("CAP_CURRENT_NODE_SCHEME", "https")
	t.Setenv("CAP_CUSTOM_TAGS", "beta,eu")
	t.Setenv("CAP_REFRESH_INTERVAL", "1m")
	t.Setenv("CAP_CACHE_BACKEND", "redis")
	t.Setenv("CAP_KUBERNETES_ENABLED", "true")

	cfg, err := Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "Dash-01", cfg.Discovery.NodeID)
	assert.Equal(t, "consul.service", cfg.Discovery.DiscoveryServerHostName)
	assert.Equal(t, 8501, cfg.Discovery.DiscoveryServerPort)
	assert.Equal(t, "10.0.0.9", cfg.Discovery.CurrentNodeHostName)
	assert.Equal(t, "https", cfg.Discovery.CurrentNodeScheme)
	assert.Equal(t, []string{"beta", "eu"}, cfg.Discovery.CustomTags)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.True(t, cfg.Kubernetes.Enabled)
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	t.Setenv("CAP_NODE_NAME", "cap-dashboard")
	t.Setenv("CAP_NODE_ID", "from-env")

	cfg, err := Load(append(noEnvFile(t), "--node-id", "from-flag", "--listen-addr", ":9090"))
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Discovery.NodeID)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestLoad_ConfigFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(yml, []byte(`
node_name: from-file
match_path: /cap
cache:
  backend: redis
  redis_addr: redis:6379
kubernetes:
  namespace: dashboards
`), 0o600))
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CAP_CURRENT_NODE_PORT=5050\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CAP_CURRENT_NODE_PORT") })

	cfg, err := Load([]string{"--config", yml, "--env-file", envPath})
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Discovery.NodeName)
	assert.Equal(t, "/cap", cfg.Discovery.MatchPath)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, "dashboards", cfg.Kubernetes.Namespace)
	assert.Equal(t, 5050, cfg.Discovery.CurrentNodePort)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CAP_NODE_NAME", "cap-dashboard")
	t.Setenv("CAP_CURRENT_NODE_SCHEME", "ftp")
	t.Setenv("CAP_CACHE_BACKEND", "memcached")

	_, err := Load(noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CurrentNodeScheme")
	assert.Contains(t, err.Error(), "memcached")
}

func TestLoad_MissingNodeName(t *testing.T) {
	_, err := Load(noEnvFile(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NodeName")
}

func TestLoad_Version(t *testing.T) {
	cfg, err := Load([]string{"--version"})
	require.NoError(t, err)
	assert.True(t, cfg.ShowVersion)
}

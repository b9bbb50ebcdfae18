package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9191
memory:
  similarity_threshold: 0.5
  retrieval_limit: 3
coordinator:
  analysis_timeout: 45s
`, 0o600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Memory.SimilarityThreshold)
	assert.Equal(t, 3, cfg.Memory.RetrievalLimit)
	assert.Equal(t, 45*time.Second, cfg.Coordinator.AnalysisTimeout.Duration())

	// Untouched values keep their defaults.
	assert.Equal(t, 0.7, cfg.Capabilities.Statistics.StrongCorrelation)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9191\n", 0o600)

	t.Setenv("INSIGHTD_SERVER_PORT", "7777")
	t.Setenv("INSIGHTD_MEMORY_RETRIEVAL_LIMIT", "9")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, 9, cfg.Memory.RetrievalLimit)
}

func TestLoadWithFile_DataDirEnv(t *testing.T) {
	path := writeConfigFile(t, "", 0o600)

	t.Setenv("INSIGHTD_DATA_DIR", "/tmp/insightd-test")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/insightd-test", cfg.DataDir)
	assert.Equal(t, filepath.Join("/tmp/insightd-test", "memory"), cfg.Memory.Root)
}

func TestLoadWithFile_RejectsOpenPermissions(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9191\n", 0o644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadWithFile_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	path := writeConfigFile(t, "memory:\n  similarity_threshold: 2.5\n", 0o600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity threshold")
}

func TestLoadWithFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [unclosed\n", 0o600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"INSIGHTD_SERVER_PORT", "server.port"},
		{"INSIGHTD_MEMORY_SIMILARITY_THRESHOLD", "memory.similarity_threshold"},
		{"INSIGHTD_COORDINATOR_INGEST_TIMEOUT", "coordinator.ingest_timeout"},
		{"INSIGHTD_DATA_DIR", "data_dir"},
		{"INSIGHTD_LOGGING_LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, envTransform(tt.in))
		})
	}
}

func TestEnsureDataDir(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, EnsureDataDir(cfg))

	fi, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig_IsValid(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.applyDefaults()
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults_DerivedPaths(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.DataDir = "/var/lib/insightd"
	cfg.applyDefaults()

	assert.Equal(t, filepath.Join("/var/lib/insightd", "memory"), cfg.Memory.Root)
	assert.Equal(t, filepath.Join("/var/lib/insightd", "inbox"), cfg.Watcher.Dir)
	assert.Equal(t, filepath.Join("/var/lib/insightd", "datasets.toml"), cfg.Registry.Path)
	assert.Equal(t, filepath.Join("/var/lib/insightd", "trace.ndjson"), cfg.Trace.File.Path)
}

func TestApplyDefaults_KeepsExplicitPaths(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Memory.Root = "/mnt/memory"
	cfg.applyDefaults()

	assert.Equal(t, "/mnt/memory", cfg.Memory.Root)
}

func TestServerConfig_Addr(t *testing.T) {
	t.Parallel()

	c := ServerConfig{Host: "0.0.0.0", Port: 9090}
	assert.Equal(t, "0.0.0.0:9090", c.Addr())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server port",
		},
		{
			name:    "similarity threshold above one",
			mutate:  func(c *Config) { c.Memory.SimilarityThreshold = 1.2 },
			wantErr: "similarity threshold",
		},
		{
			name:    "negative type weight",
			mutate:  func(c *Config) { c.Memory.TypeWeight = -0.1 },
			wantErr: "type weight",
		},
		{
			name:    "zero retrieval limit",
			mutate:  func(c *Config) { c.Memory.RetrievalLimit = 0 },
			wantErr: "retrieval limit",
		},
		{
			name:    "zero decay half-life",
			mutate:  func(c *Config) { c.Memory.DecayHalfLife = 0 },
			wantErr: "half-life",
		},
		{
			name:    "zero ingest timeout",
			mutate:  func(c *Config) { c.Coordinator.IngestTimeout = 0 },
			wantErr: "ingest_timeout",
		},
		{
			name:    "zero analysis timeout",
			mutate:  func(c *Config) { c.Coordinator.AnalysisTimeout = 0 },
			wantErr: "analysis_timeout",
		},
		{
			name: "evaluation timeout required when enabled",
			mutate: func(c *Config) {
				c.Evaluation.Enabled = true
				c.Evaluation.Timeout = 0
			},
			wantErr: "evaluation",
		},
		{
			name: "evaluation timeout ignored when disabled",
			mutate: func(c *Config) {
				c.Evaluation.Enabled = false
				c.Evaluation.Timeout = 0
			},
		},
		{
			name:    "evaluation confidence floor above one",
			mutate:  func(c *Config) { c.Evaluation.ConfidenceFloor = 1.2 },
			wantErr: "confidence floor",
		},
		{
			name: "evaluation weights must sum to one",
			mutate: func(c *Config) {
				c.Evaluation.QualityWeight = 0.5
				c.Evaluation.PerformanceWeight = 0.5
				c.Evaluation.MemoryWeight = 0.5
			},
			wantErr: "weights",
		},
		{
			name:    "correlation threshold above one",
			mutate:  func(c *Config) { c.Capabilities.Statistics.StrongCorrelation = 1.5 },
			wantErr: "strong correlation",
		},
		{
			name: "long window must exceed short",
			mutate: func(c *Config) {
				c.Capabilities.Statistics.ShortWindow = 30
				c.Capabilities.Statistics.LongWindow = 7
			},
			wantErr: "long window",
		},
		{
			name:    "unknown synthesis provider",
			mutate:  func(c *Config) { c.Capabilities.Synthesis.Provider = "cohere" },
			wantErr: "synthesis provider",
		},
		{
			name:    "tiny visualization",
			mutate:  func(c *Config) { c.Capabilities.Visualization.Width = 1 },
			wantErr: "visualization size",
		},
		{
			name: "watcher debounce required when enabled",
			mutate: func(c *Config) {
				c.Watcher.Enabled = true
				c.Watcher.Debounce = 0
			},
			wantErr: "debounce",
		},
		{
			name: "nats url required when enabled",
			mutate: func(c *Config) {
				c.Trace.NATS.Enabled = true
				c.Trace.NATS.URL = ""
			},
			wantErr: "nats url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewDefaultConfig()
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultTimeouts(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.Coordinator.IngestTimeout.Duration())
	assert.Equal(t, 2*time.Minute, cfg.Coordinator.AnalysisTimeout.Duration())
	assert.Equal(t, time.Minute, cfg.Coordinator.SynthesisTimeout.Duration())
	assert.Equal(t, 30*time.Second, cfg.Coordinator.CommitTimeout.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.Memory.DecayHalfLife.Duration())
}

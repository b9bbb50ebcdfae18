package config

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/telemetry"
)

// Config is the full insightd configuration tree. Values come from the
// YAML config file overlaid with INSIGHTD_-prefixed environment variables;
// anything unset falls back to NewDefaultConfig.
type Config struct {
	// DataDir is the base directory for memory, artifacts, traces, and the
	// dataset registry. Relative paths under it are filled in by defaults.
	DataDir string `koanf:"data_dir"`

	Server       ServerConfig       `koanf:"server"`
	Logging      logging.Config     `koanf:"logging"`
	Telemetry    telemetry.Config   `koanf:"telemetry"`
	Memory       MemoryConfig       `koanf:"memory"`
	Coordinator  CoordinatorConfig  `koanf:"coordinator"`
	Evaluation   EvaluationConfig   `koanf:"evaluation"`
	Capabilities CapabilitiesConfig `koanf:"capabilities"`
	Watcher      WatcherConfig      `koanf:"watcher"`
	Registry     RegistryConfig     `koanf:"registry"`
	Trace        TraceConfig        `koanf:"trace"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MemoryConfig configures the memory bank.
type MemoryConfig struct {
	// Root is the memory bank directory. Defaults to <data_dir>/memory.
	Root string `koanf:"root"`

	// SimilarityThreshold is the minimum structural similarity for a past
	// session to count as relevant context, in [0, 1].
	SimilarityThreshold float64 `koanf:"similarity_threshold"`

	// TypeWeight is the bonus weight applied to the fraction of shared
	// columns whose types also match.
	TypeWeight float64 `koanf:"type_weight"`

	// RetrievalLimit caps how many relevant sessions are returned.
	RetrievalLimit int `koanf:"retrieval_limit"`

	// DecayHalfLife controls read-time pattern recency decay. A pattern
	// unseen for one half-life counts at half its stored support.
	DecayHalfLife Duration `koanf:"decay_half_life"`

	// PatternMinSupport is the default support floor for pattern queries.
	PatternMinSupport int `koanf:"pattern_min_support"`
}

// CoordinatorConfig sets per-phase deadlines for a session run.
type CoordinatorConfig struct {
	IngestTimeout    Duration `koanf:"ingest_timeout"`
	AnalysisTimeout  Duration `koanf:"analysis_timeout"`
	SynthesisTimeout Duration `koanf:"synthesis_timeout"`
	CommitTimeout    Duration `koanf:"commit_timeout"`

	// ArtifactsDir is the base directory for run outputs; each session
	// writes under its own subdirectory. Defaults to <data_dir>/artifacts.
	ArtifactsDir string `koanf:"artifacts_dir"`
}

// EvaluationConfig controls the detached post-run evaluator.
type EvaluationConfig struct {
	Enabled bool     `koanf:"enabled"`
	Timeout Duration `koanf:"timeout"`

	// MinInsights is the insight count at which the quality score saturates.
	MinInsights int `koanf:"min_insights"`

	// ConfidenceFloor is the average insight confidence treated as full
	// marks, in (0, 1].
	ConfidenceFloor float64 `koanf:"confidence_floor"`

	// Baseline is the run duration scoring zero on performance. Faster runs
	// score proportionally higher.
	Baseline Duration `koanf:"baseline"`

	// QualityWeight, PerformanceWeight, and MemoryWeight blend the three
	// scores into the overall score and must sum to 1.
	QualityWeight     float64 `koanf:"quality_weight"`
	PerformanceWeight float64 `koanf:"performance_weight"`
	MemoryWeight      float64 `koanf:"memory_weight"`
}

// CapabilitiesConfig configures the pluggable analysis capabilities.
type CapabilitiesConfig struct {
	Statistics    StatisticsConfig    `koanf:"statistics"`
	Visualization VisualizationConfig `koanf:"visualization"`
	Synthesis     SynthesisConfig     `koanf:"synthesis"`
}

// StatisticsConfig tunes the statistical analyzer.
type StatisticsConfig struct {
	// StrongCorrelation is the |r| threshold above which a pair of columns
	// is reported as strongly correlated.
	StrongCorrelation float64 `koanf:"strong_correlation"`

	// OutlierIQRFactor scales the interquartile range for outlier fences.
	OutlierIQRFactor float64 `koanf:"outlier_iqr_factor"`

	// OutlierShare is the fraction of outlying rows above which a column
	// is flagged.
	OutlierShare float64 `koanf:"outlier_share"`

	// ShortWindow and LongWindow are the moving-average window sizes, in
	// rows, used for trend analysis.
	ShortWindow int `koanf:"short_window"`
	LongWindow  int `koanf:"long_window"`
}

// VisualizationConfig sizes rendered charts.
type VisualizationConfig struct {
	Width  int `koanf:"width"`
	Height int `koanf:"height"`
}

// SynthesisConfig selects how narrative insights are generated.
type SynthesisConfig struct {
	// Provider is "local" for template synthesis, or "gemini",
	// "anthropic", "openai" for model-backed synthesis.
	Provider string `koanf:"provider"`

	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`

	MaxRetries        int      `koanf:"max_retries"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	Timeout           Duration `koanf:"timeout"`
}

// WatcherConfig configures the dataset inbox watcher.
type WatcherConfig struct {
	Enabled bool `koanf:"enabled"`

	// Dir is the watched directory. Defaults to <data_dir>/inbox.
	Dir string `koanf:"dir"`

	// Debounce delays analysis after the last write event so files being
	// copied in are only picked up once complete.
	Debounce Duration `koanf:"debounce"`
}

// RegistryConfig locates the dataset registry file.
type RegistryConfig struct {
	// Path defaults to <data_dir>/datasets.toml.
	Path string `koanf:"path"`
}

// TraceConfig configures trace event sinks.
type TraceConfig struct {
	File FileTraceConfig `koanf:"file"`
	NATS NATSTraceConfig `koanf:"nats"`
}

// FileTraceConfig appends trace events to an NDJSON file.
type FileTraceConfig struct {
	Enabled bool `koanf:"enabled"`

	// Path defaults to <data_dir>/trace.ndjson.
	Path string `koanf:"path"`
}

// NATSTraceConfig publishes trace events to NATS subjects.
type NATSTraceConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// SubjectPrefix is prepended to the session id, e.g.
	// insightd.trace.<session_id>.
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Known synthesis providers.
const (
	SynthesisLocal     = "local"
	SynthesisGemini    = "gemini"
	SynthesisAnthropic = "anthropic"
	SynthesisOpenAI    = "openai"
)

// NewDefaultConfig returns the full default tree: local-only analysis, no
// network dependencies, everything under ./insightd-data.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir: "insightd-data",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging:   *logging.NewDefaultConfig(),
		Telemetry: *telemetry.NewDefaultConfig(),
		Memory: MemoryConfig{
			SimilarityThreshold: 0.3,
			TypeWeight:          0.25,
			RetrievalLimit:      5,
			DecayHalfLife:       Duration(30 * 24 * time.Hour),
			PatternMinSupport:   2,
		},
		Coordinator: CoordinatorConfig{
			IngestTimeout:    Duration(30 * time.Second),
			AnalysisTimeout:  Duration(2 * time.Minute),
			SynthesisTimeout: Duration(time.Minute),
			CommitTimeout:    Duration(30 * time.Second),
		},
		Evaluation: EvaluationConfig{
			Enabled:           true,
			Timeout:           Duration(30 * time.Second),
			MinInsights:       5,
			ConfidenceFloor:   0.6,
			Baseline:          Duration(time.Minute),
			QualityWeight:     0.5,
			PerformanceWeight: 0.3,
			MemoryWeight:      0.2,
		},
		Capabilities: CapabilitiesConfig{
			Statistics: StatisticsConfig{
				StrongCorrelation: 0.7,
				OutlierIQRFactor:  1.5,
				OutlierShare:      0.05,
				ShortWindow:       7,
				LongWindow:        30,
			},
			Visualization: VisualizationConfig{
				Width:  60,
				Height: 12,
			},
			Synthesis: SynthesisConfig{
				Provider:          SynthesisLocal,
				Model:             "gemini-2.0-flash",
				MaxRetries:        3,
				RequestsPerMinute: 60,
				Timeout:           Duration(30 * time.Second),
			},
		},
		Watcher: WatcherConfig{
			Enabled:  false,
			Debounce: Duration(2 * time.Second),
		},
		Registry: RegistryConfig{},
		Trace: TraceConfig{
			File: FileTraceConfig{
				Enabled: true,
			},
			NATS: NATSTraceConfig{
				Enabled:       false,
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "insightd.trace",
			},
		},
	}
}

// applyDefaults fills paths derived from DataDir when left empty.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "insightd-data"
	}
	if c.Memory.Root == "" {
		c.Memory.Root = filepath.Join(c.DataDir, "memory")
	}
	if c.Coordinator.ArtifactsDir == "" {
		c.Coordinator.ArtifactsDir = filepath.Join(c.DataDir, "artifacts")
	}
	if c.Watcher.Dir == "" {
		c.Watcher.Dir = filepath.Join(c.DataDir, "inbox")
	}
	if c.Registry.Path == "" {
		c.Registry.Path = filepath.Join(c.DataDir, "datasets.toml")
	}
	if c.Trace.File.Path == "" {
		c.Trace.File.Path = filepath.Join(c.DataDir, "trace.ndjson")
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in [1, 65535], got %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Memory.validate(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := c.Coordinator.validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	if err := c.Evaluation.validate(); err != nil {
		return fmt.Errorf("evaluation: %w", err)
	}
	if err := c.Capabilities.validate(); err != nil {
		return fmt.Errorf("capabilities: %w", err)
	}
	if c.Watcher.Enabled && c.Watcher.Debounce.Duration() <= 0 {
		return fmt.Errorf("watcher: debounce must be positive")
	}
	if c.Trace.NATS.Enabled && c.Trace.NATS.URL == "" {
		return fmt.Errorf("trace: nats url is required when the nats sink is enabled")
	}
	return nil
}

func (c MemoryConfig) validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0, 1], got %v", c.SimilarityThreshold)
	}
	if c.TypeWeight < 0 {
		return fmt.Errorf("type weight must be non-negative, got %v", c.TypeWeight)
	}
	if c.RetrievalLimit < 1 {
		return fmt.Errorf("retrieval limit must be at least 1, got %d", c.RetrievalLimit)
	}
	if c.DecayHalfLife.Duration() <= 0 {
		return fmt.Errorf("decay half-life must be positive")
	}
	if c.PatternMinSupport < 1 {
		return fmt.Errorf("pattern min support must be at least 1, got %d", c.PatternMinSupport)
	}
	return nil
}

func (c EvaluationConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Timeout.Duration() <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MinInsights < 1 {
		return fmt.Errorf("min insights must be at least 1, got %d", c.MinInsights)
	}
	if c.ConfidenceFloor <= 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence floor must be in (0, 1], got %v", c.ConfidenceFloor)
	}
	if c.Baseline.Duration() <= 0 {
		return fmt.Errorf("baseline must be positive")
	}
	sum := c.QualityWeight + c.PerformanceWeight + c.MemoryWeight
	if c.QualityWeight < 0 || c.PerformanceWeight < 0 || c.MemoryWeight < 0 || math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("score weights must be non-negative and sum to 1, got %v/%v/%v",
			c.QualityWeight, c.PerformanceWeight, c.MemoryWeight)
	}
	return nil
}

func (c CoordinatorConfig) validate() error {
	for _, tc := range []struct {
		name string
		d    Duration
	}{
		{"ingest_timeout", c.IngestTimeout},
		{"analysis_timeout", c.AnalysisTimeout},
		{"synthesis_timeout", c.SynthesisTimeout},
		{"commit_timeout", c.CommitTimeout},
	} {
		if tc.d.Duration() <= 0 {
			return fmt.Errorf("%s must be positive", tc.name)
		}
	}
	return nil
}

func (c CapabilitiesConfig) validate() error {
	s := c.Statistics
	if s.StrongCorrelation <= 0 || s.StrongCorrelation > 1 {
		return fmt.Errorf("strong correlation threshold must be in (0, 1], got %v", s.StrongCorrelation)
	}
	if s.OutlierIQRFactor <= 0 {
		return fmt.Errorf("outlier iqr factor must be positive, got %v", s.OutlierIQRFactor)
	}
	if s.OutlierShare < 0 || s.OutlierShare > 1 {
		return fmt.Errorf("outlier share must be in [0, 1], got %v", s.OutlierShare)
	}
	if s.ShortWindow < 2 {
		return fmt.Errorf("short window must be at least 2, got %d", s.ShortWindow)
	}
	if s.LongWindow <= s.ShortWindow {
		return fmt.Errorf("long window must exceed short window, got %d <= %d", s.LongWindow, s.ShortWindow)
	}

	if c.Visualization.Width < 10 || c.Visualization.Height < 3 {
		return fmt.Errorf("visualization size too small: %dx%d", c.Visualization.Width, c.Visualization.Height)
	}

	switch c.Synthesis.Provider {
	case SynthesisLocal, SynthesisGemini, SynthesisAnthropic, SynthesisOpenAI:
	default:
		return fmt.Errorf("unknown synthesis provider %q", c.Synthesis.Provider)
	}
	if c.Synthesis.MaxRetries < 0 {
		return fmt.Errorf("synthesis max retries must be non-negative, got %d", c.Synthesis.MaxRetries)
	}
	if c.Synthesis.RequestsPerMinute < 1 {
		return fmt.Errorf("synthesis requests per minute must be at least 1, got %d", c.Synthesis.RequestsPerMinute)
	}
	if c.Synthesis.Timeout.Duration() <= 0 {
		return fmt.Errorf("synthesis timeout must be positive")
	}
	return nil
}

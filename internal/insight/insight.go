// Package insight defines the insight record produced by analysis
// capabilities and the ordering applied before insights are reported.
package insight

import (
	"math"
	"sort"
	"time"
)

// Source identifies which capability produced an insight.
type Source string

const (
	// SourceStatistical marks insights from numeric analysis.
	SourceStatistical Source = "statistical"

	// SourceVisual marks insights derived from chart generation.
	SourceVisual Source = "visual"

	// SourceSynthesized marks narrative insights composed from the other
	// two.
	SourceSynthesized Source = "synthesized"
)

// rank orders sources for reporting. Statistical findings outrank visual
// ones, which outrank synthesized narrative.
func (s Source) rank() int {
	switch s {
	case SourceStatistical:
		return 0
	case SourceVisual:
		return 1
	case SourceSynthesized:
		return 2
	default:
		return 3
	}
}

// Categories used by the built-in capabilities.
const (
	CategoryCorrelation  = "correlation"
	CategoryOutlier      = "outlier"
	CategoryTrend        = "trend"
	CategoryDistribution = "distribution"
	CategorySummary      = "summary"
	CategoryChart        = "chart"
)

// Insight is one analytical finding.
type Insight struct {
	// Text is the human-readable finding.
	Text string `json:"text"`

	// Confidence is the capability's confidence in the finding, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Source identifies the producing capability.
	Source Source `json:"source"`

	// Category groups related findings, e.g. "correlation" or "trend".
	Category string `json:"category"`

	// PatternKey is a stable machine key for the recurring finding, e.g.
	// "correlation:revenue~units". The memory bank merges commits sharing
	// a key into one pattern with accumulated support. Empty means the
	// finding is not tracked as a pattern.
	PatternKey string `json:"pattern_key,omitempty"`

	// MemoryInfluenced marks findings whose confidence or wording was
	// adjusted by retrieved context from past sessions.
	MemoryInfluenced bool `json:"memory_influenced,omitempty"`

	// CreatedAt is when the insight was produced.
	CreatedAt time.Time `json:"created_at"`
}

// New builds an insight with the confidence clamped into [0, 1].
func New(text string, confidence float64, source Source, category string) Insight {
	return Insight{
		Text:       text,
		Confidence: ClampConfidence(confidence),
		Source:     source,
		Category:   category,
	}
}

// ClampConfidence forces a confidence value into [0, 1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// Sort orders insights for reporting: confidence descending, then source
// rank, preserving insertion order among equals.
func Sort(insights []Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].Confidence != insights[j].Confidence {
			return insights[i].Confidence > insights[j].Confidence
		}
		return insights[i].Source.rank() < insights[j].Source.rank()
	})
}
